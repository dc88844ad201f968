package trainer

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

func Accuracy(truth, pred []string) float64 {
	if len(truth) == 0 {
		return 0
	}
	hit := 0
	for i := range truth {
		if truth[i] == pred[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(truth))
}

type ClassReport struct {
	Label     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report is a per-label classification report over a held-out set.
type Report struct {
	Labels      []string
	Classes     []ClassReport
	Accuracy    float64
	MacroAvg    ClassReport
	WeightedAvg ClassReport
	// Confusion[i][j] counts samples of Labels[i] predicted as Labels[j].
	Confusion [][]int
}

func Evaluate(truth, pred []string) Report {
	seen := map[string]struct{}{}
	for _, l := range truth {
		seen[l] = struct{}{}
	}
	for _, l := range pred {
		seen[l] = struct{}{}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	pos := make(map[string]int, len(labels))
	for i, l := range labels {
		pos[l] = i
	}

	n := len(labels)
	cm := make([][]int, n)
	for i := range cm {
		cm[i] = make([]int, n)
	}
	for i := range truth {
		cm[pos[truth[i]]][pos[pred[i]]]++
	}

	r := Report{Labels: labels, Confusion: cm, Accuracy: Accuracy(truth, pred)}
	total := 0
	for i, l := range labels {
		tp, predicted, support := cm[i][i], 0, 0
		for j := 0; j < n; j++ {
			predicted += cm[j][i]
			support += cm[i][j]
		}
		c := ClassReport{Label: l, Support: support}
		if predicted > 0 {
			c.Precision = float64(tp) / float64(predicted)
		}
		if support > 0 {
			c.Recall = float64(tp) / float64(support)
		}
		if c.Precision+c.Recall > 0 {
			c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
		}
		r.Classes = append(r.Classes, c)

		r.MacroAvg.Precision += c.Precision
		r.MacroAvg.Recall += c.Recall
		r.MacroAvg.F1 += c.F1
		w := float64(support)
		r.WeightedAvg.Precision += w * c.Precision
		r.WeightedAvg.Recall += w * c.Recall
		r.WeightedAvg.F1 += w * c.F1
		total += support
	}
	if n > 0 {
		r.MacroAvg.Precision /= float64(n)
		r.MacroAvg.Recall /= float64(n)
		r.MacroAvg.F1 /= float64(n)
	}
	if total > 0 {
		r.WeightedAvg.Precision /= float64(total)
		r.WeightedAvg.Recall /= float64(total)
		r.WeightedAvg.F1 /= float64(total)
	}
	r.MacroAvg.Label, r.MacroAvg.Support = "macro avg", total
	r.WeightedAvg.Label, r.WeightedAvg.Support = "weighted avg", total
	return r
}

func (r Report) Write(w io.Writer) {
	width := len("weighted avg")
	for _, l := range r.Labels {
		width = max(width, len(l))
	}
	row := func(c ClassReport) {
		fmt.Fprintf(w, "%*s %9.2f %9.2f %9.2f %9d\n", width, c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(w, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, c := range r.Classes {
		row(c)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.MacroAvg.Support)
	row(r.MacroAvg)
	row(r.WeightedAvg)
}

func (r Report) String() string {
	var sb strings.Builder
	r.Write(&sb)
	return sb.String()
}
