// Package report 把诊断记录编码为输出用的 JSON 数组。
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"cdpaudit/pkg/model"
)

// Marshal 按采集顺序编码全部记录；空报告输出 []
func Marshal(r model.Report) ([]byte, error) {
	out := []byte("[]")
	for i, is := range r {
		b, err := json.Marshal(is)
		if err != nil {
			return nil, fmt.Errorf("encode issue %d (%s): %w", i, is.Kind, err)
		}
		if out, err = sjson.SetRawBytes(out, "-1", b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Write 写出报告并换行，pretty 时缩进
func Write(w io.Writer, r model.Report, pretty bool) error {
	b, err := Marshal(r)
	if err != nil {
		return err
	}
	if pretty {
		b = []byte(gjson.GetBytes(b, "@pretty").Raw)
	}
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	_, err = w.Write(b)
	return err
}

// WriteSummary 写出单行运行概要
func WriteSummary(w io.Writer, sum model.RunSummary) error {
	b, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
