// cmd/attend/report.go
package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Parhamfakhar1/lumix-attention/internal/core"
)

type report struct {
	RunID     string
	Precision string
	Params    int
	Query     []int
	Key       []int
	Output    []int
	Causal    bool
	Duration  time.Duration
	Values    []float64
}

func writeReport(w io.Writer, r report) error {
	if len(r.Values) == 0 {
		return errors.New("empty output")
	}
	mean, std := stat.MeanStdDev(r.Values, nil)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk([][]string{
		{"Run ID", r.RunID},
		{"Precision", r.Precision},
		{"Parameters", humanize.Comma(int64(r.Params))},
		{"Query shape", fmt.Sprint(r.Query)},
		{"Key shape", fmt.Sprint(r.Key)},
		{"Output shape", fmt.Sprint(r.Output)},
		{"Causal", strconv.FormatBool(r.Causal)},
		{"Duration", r.Duration.String()},
		{"Mean", formatFloat(mean)},
		{"Std dev", formatFloat(std)},
		{"Min", formatFloat(floats.Min(r.Values))},
		{"Max", formatFloat(floats.Max(r.Values))},
	})
	table.Render()
	return nil
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', 6, 64)
}

func toFloat64[T core.Float](data []T) []float64 {
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = float64(x)
	}
	return out
}
