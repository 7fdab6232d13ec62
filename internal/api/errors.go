package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrReportNotFound 表示该会话还没有生成过报告；是控制流信号而非错误
// ErrReportNotFound means no report exists yet for the session. It is a
// control-flow signal selecting the generation fallback, not a failure.
var ErrReportNotFound = errors.New("report not found")

// StatusError is a non-2xx response. Detail carries the human-readable
// message extracted from the body ({"detail": ...}, raw text, or a plain
// "HTTP <code>" when the body is empty).
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return e.Detail
}

// decodeError 从响应体提取 {detail}，其次取裸文本，最后退到 HTTP 状态码
// decodeError builds a *StatusError from a non-2xx response body: prefer
// {"detail"}, then the raw body text, then "HTTP <code>".
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	detail := ""
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Detail != nil {
		switch v := payload.Detail.(type) {
		case string:
			detail = v
		default:
			if compact, marshalErr := json.Marshal(v); marshalErr == nil {
				detail = string(compact)
			}
		}
	}
	if detail == "" {
		detail = strings.TrimSpace(string(data))
	}
	if detail == "" {
		detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return &StatusError{Code: resp.StatusCode, Detail: detail}
}
