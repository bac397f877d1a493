package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrTileNotFound 瓦片服务正常缺片（HTTP 404），不重试不报错
var ErrTileNotFound = errors.New("tile not found")

// Fetcher 瓦片下载器，整个导出任务共享一个实例
// 信号量全局限制在途请求数，连接池由http.Transport自行管理
type Fetcher struct {
	client       *http.Client
	sem          chan struct{}
	maxRetries   int
	retryDelay   time.Duration
	requestDelay time.Duration
	timeout      time.Duration
	userAgent    string
}

// FetchedTile 下载结果，完成顺序不保证与输入一致，按行列号取用
type FetchedTile struct {
	X    int
	Y    int
	Zoom int
	Data []byte
}

// NewFetcher 创建下载器
func NewFetcher(workers, maxRetries int, retryDelay, requestDelay, timeout time.Duration) *Fetcher {
	if workers <= 0 {
		workers = 8
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sem:          make(chan struct{}, workers),
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		requestDelay: requestDelay,
		timeout:      timeout,
		userAgent:    "gsitiler/" + Version,
	}
}

// FetchOne 下载单张瓦片
//
// 404直接返回ErrTileNotFound。其余状态码和传输错误线性退避重试，
// 单次尝试超时计入重试预算，重试耗尽后返回最后一次错误。
func (f *Fetcher) FetchOne(ctx context.Context, source *LayerSource, x, y, zoom int) ([]byte, error) {
	url := source.TileURL(x, y, zoom)

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if attempt > 1 {
			// 线性退避
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * f.retryDelay):
			}
		}

		data, err := f.fetchAttempt(ctx, url)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrTileNotFound) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		log.Debugf("fetch %s attempt %d/%d failed: %s", url, attempt, f.maxRetries, err)
	}

	return nil, fmt.Errorf("all %d attempts failed for %s: %w", f.maxRetries, url, lastErr)
}

// fetchAttempt 单次请求，持有信号量期间先等礼貌间隔再发请求
func (f *Fetcher) fetchAttempt(ctx context.Context, url string) ([]byte, error) {
	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if f.requestDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.requestDelay):
		}
	}

	attemptCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tile failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrTileNotFound
	default:
		return nil, fmt.Errorf("tile server returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("zero byte tile")
	}
	return data, nil
}

// FetchBatch 并发下载一批瓦片
// 重试耗尽或404的瓦片从结果中静默剔除。进度回调每张输入瓦片恰好一次。
func (f *Fetcher) FetchBatch(ctx context.Context, source *LayerSource, tiles []TileIndex, progress func(done, total int)) []FetchedTile {
	total := len(tiles)
	results := make([]FetchedTile, 0, total)

	var mu sync.Mutex
	var wg sync.WaitGroup
	done := 0

	for _, t := range tiles {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(t TileIndex) {
			defer wg.Done()

			data, err := f.FetchOne(ctx, source, t.X, t.Y, t.Zoom)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				results = append(results, FetchedTile{X: t.X, Y: t.Y, Zoom: t.Zoom, Data: data})
			} else if !errors.Is(err, ErrTileNotFound) && !errors.Is(err, context.Canceled) {
				log.Debugf("tile %d/%d/%d dropped: %s", t.Zoom, t.X, t.Y, err)
			}
			done++
			if progress != nil {
				progress(done, total)
			}
		}(t)
	}

	wg.Wait()
	return results
}
