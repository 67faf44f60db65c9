// Package retry 为远程推理接口提供带指数退避的 HTTP 调用。
package retry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mogu-chat/pkg/log"
)

// Policy 控制重试次数与首次退避间隔。
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy 返回给定重试次数的默认策略。
func DefaultPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:      maxRetries,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// StatusError 表示远端返回了非 2xx 状态码。
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned non-2xx status: %s, body: %s", e.Status, e.Body)
}

// Retryable 报告该状态码是否值得重试（限流或服务端错误）。
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Do 发送请求，仅在拿到 2xx 响应之前重试：网络错误、429 与 5xx 会退避重试，
// 其余状态码立即失败。调用方负责关闭返回的 resp.Body。
func Do(ctx context.Context, client *http.Client, policy Policy, newRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	eb := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		eb.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		eb.MaxInterval = policy.MaxInterval
	}
	eb.MaxElapsedTime = 0
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxRetries)), ctx)

	var resp *http.Response
	attempt := 0
	op := func() error {
		attempt++
		req, err := newRequest(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			log.Warnf("[retry] 第 %d 次请求 %s 失败: %v", attempt, req.URL.Path, err)
			return err
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			statusErr := &StatusError{Code: r.StatusCode, Status: r.Status, Body: string(body)}
			if !statusErr.Retryable() {
				return backoff.Permanent(statusErr)
			}
			log.Warnf("[retry] 第 %d 次请求 %s 返回 %s", attempt, req.URL.Path, r.Status)
			return statusErr
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return resp, nil
}
