package engine

import (
	iface "YogaPoseServer/interface"
	"errors"

	"gocv.io/x/gocv"
)

var ErrEmptyDecode = errors.New("decoded image is empty or unsupported format")

// GocvDecoder decodes encoded image bytes (png, jpeg, bmp, webp ...) into BGR pixels.
type GocvDecoder struct{}

func (GocvDecoder) Decode(data []byte) (iface.ImageData, error) {
	mat, err := BytesToMat(data)
	if err != nil {
		return iface.ImageData{}, err
	}
	defer mat.Close()
	img := MatToImage(mat)
	img.Encoded = data
	return img, nil
}

// BytesToMat 将编码后的图像字节解码为 gocv.Mat
func BytesToMat(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), ErrEmptyDecode
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), err
	}
	if mat.Empty() {
		// IMDecode 返回空 Mat 表示解码失败
		_ = mat.Close()
		return gocv.NewMat(), ErrEmptyDecode
	}
	return mat, nil
}

// ReadImageFile reads and decodes an image file from disk.
func ReadImageFile(path string) (iface.ImageData, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		_ = mat.Close()
		return iface.ImageData{}, ErrEmptyDecode
	}
	defer mat.Close()
	img := MatToImage(mat)
	if buf, err := gocv.IMEncode(gocv.PNGFileExt, mat); err == nil {
		img.Encoded = append([]byte(nil), buf.GetBytes()...)
		buf.Close()
	}
	return img, nil
}

func MatToImage(mat gocv.Mat) iface.ImageData {
	return iface.ImageData{
		Data:     mat.ToBytes(),
		Width:    mat.Cols(),
		Height:   mat.Rows(),
		Channels: mat.Channels(),
	}
}

func ImageToMat(img iface.ImageData) (gocv.Mat, error) {
	matType := gocv.MatTypeCV8UC3
	switch img.Channels {
	case 1:
		matType = gocv.MatTypeCV8UC1
	case 4:
		matType = gocv.MatTypeCV8UC4
	}
	return gocv.NewMatFromBytes(img.Height, img.Width, matType, img.Data)
}
