package Adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"YogaPoseServer/logger"
)

const (
	DetectionOnlyInstance = 0x3001
	ClassifierInstance    = 0x3002
	TimeOutSeconds        = 5
)

// heartbeat period, shortened in tests
var interval = TimeOutSeconds * time.Second

type RegisterRequest struct {
	Id               string `json:"id"`
	IP               string `json:"ip"`
	Port             int    `json:"port"`
	GRPCPort         int    `json:"grpcPort"`
	InstanceClass    int    `json:"instanceClass"`
	ClassifierLoaded bool   `json:"classifierLoaded"`
	TimeStamp        int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

// Instance describes this server to the registry.
type Instance struct {
	IP               string
	HTTPPort         int
	GRPCPort         int
	ClassifierLoaded bool
}

func (i Instance) Class() int {
	if i.ClassifierLoaded {
		return ClassifierInstance
	}
	return DetectionOnlyInstance
}

// SendAliveMessage registers inst with the registry at reg and repeats the
// registration every TimeOutSeconds until ctx is done.
func SendAliveMessage(ctx context.Context, wg *sync.WaitGroup, reg RegServerConfig, inst Instance) {
	defer wg.Done()
	addr := fmt.Sprintf("%s:%d", reg.Addr, reg.Port)
	url := fmt.Sprintf("http://%s/api/register", addr)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	client := resty.New().SetTimeout(interval) // 总超时
	id := uuid.NewString()
	log := logger.Log().With(zap.String("registry", addr), zap.String("id", id))

	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("SendAliveMessage panic recovered", zap.Any("panic", r))
			}
		}()
		var respBody RegisterResponse
		// 构造请求体
		reqBody := RegisterRequest{
			Id:               id,
			IP:               inst.IP,
			Port:             inst.HTTPPort,
			GRPCPort:         inst.GRPCPort,
			InstanceClass:    inst.Class(),
			ClassifierLoaded: inst.ClassifierLoaded,
			TimeStamp:        time.Now().Unix(),
		}
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(reqBody).     // resty 会 JSON 编码
			SetResult(&respBody). // 2xx 自动反序列化到 respBody
			Post(url)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("request error", zap.Error(err))
			}
			return
		}
		// 检查 HTTP 状态码
		if resp.IsError() {
			log.Error("server returned error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
			return
		}
		if !respBody.Success {
			log.Warn("registry rejected heartbeat")
		}
	}
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			log.Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
