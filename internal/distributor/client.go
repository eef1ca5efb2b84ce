// Package distributor 分发器 HTTP 查询客户端
package distributor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/pkg/errors"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// DataType 分发器数据类型, 同时是请求路径
type DataType string

const (
	DataTypeCycle       DataType = "cycleinfo"
	DataTypeReceipt     DataType = "receipt"
	DataTypeOriginalTx  DataType = "originalTx"
	DataTypeAccount     DataType = "account"
	DataTypeTransaction DataType = "transaction"
	DataTypeTotalData   DataType = "totalData"
)

// DefaultTimeout 单次请求超时
const DefaultTimeout = 45 * time.Second

// Params 查询参数, 未设置的字段不发送
type Params struct {
	Start      *int64 `json:"start,omitempty"`
	End        *int64 `json:"end,omitempty"`
	Page       *int64 `json:"page,omitempty"`
	Type       string `json:"type,omitempty"` // tally, count
	StartCycle *int64 `json:"startCycle,omitempty"`
	EndCycle   *int64 `json:"endCycle,omitempty"`
}

// Int 取地址辅助
func Int(v int64) *int64 {
	return &v
}

// IndexRange 按全局序号分页
func IndexRange(start, end int64) Params {
	return Params{Start: Int(start), End: Int(end)}
}

// CycleRange 按周期范围查询
func CycleRange(startCycle, endCycle int64) Params {
	return Params{StartCycle: Int(startCycle), EndCycle: Int(endCycle)}
}

// WithPage 附加页码
func (p Params) WithPage(page int64) Params {
	p.Page = Int(page)
	return p
}

// WithType 附加查询类型
func (p Params) WithType(t string) Params {
	p.Type = t
	return p
}

// Options 客户端配置
type Options struct {
	URL        string
	Timeout    time.Duration
	RateLimit  float64 // 每秒请求数, 0 为不限
	Burst      int
	HTTPClient *http.Client
}

// Client 分发器客户端
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	signer  *Signer
}

// NewClient 创建客户端
func NewClient(opts Options, signer *Signer) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.URL, "/"),
		http:    httpClient,
		limiter: limiter,
		signer:  signer,
	}
}

// Query 发送签名的 POST 请求并返回响应体, 不做重试
func (c *Client) Query(ctx context.Context, dataType DataType, params Params) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.WrapWithCause(errors.ErrDistributorUnavailable, err, "rate limit wait")
		}
	}

	body, err := c.buildBody(params)
	if err != nil {
		return nil, errors.WrapWithCause(errors.ErrInternal, err, "build request body")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.WrapWithCause(errors.ErrInternal, err, "marshal request body")
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, dataType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.WrapWithCause(errors.ErrInternal, err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordDistributorRequest(string(dataType), "transport_error", time.Since(start).Seconds())
		logger.Warn("distributor request failed",
			zap.String("url", url),
			zap.Error(err))
		return nil, errors.WrapWithCause(errors.ErrDistributorUnavailable, err, "query %s", dataType)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordDistributorRequest(string(dataType), "transport_error", time.Since(start).Seconds())
		return nil, errors.WrapWithCause(errors.ErrDistributorUnavailable, err, "read %s response", dataType)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordDistributorRequest(string(dataType), "http_error", time.Since(start).Seconds())
		logger.Warn("distributor returned error status",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return nil, errors.Wrapf(errors.ErrDistributorUnavailable, "query %s: status %d", dataType, resp.StatusCode)
	}
	metrics.RecordDistributorRequest(string(dataType), "ok", time.Since(start).Seconds())
	return data, nil
}

// buildBody 参数 + sender + sign
func (c *Client) buildBody(params Params) (map[string]interface{}, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	body := make(map[string]interface{})
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	if c.signer == nil {
		return body, nil
	}
	body["sender"] = c.signer.PublicKey()
	if err := c.signer.Sign(body); err != nil {
		return nil, err
	}
	return body, nil
}
