package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// HFConfig configures HuggingFace.
type HFConfig struct {
	// Endpoint of the hub. Default https://huggingface.co.
	Endpoint string
	// Token is sent as a bearer token for gated repositories.
	Token string
	// Revision to resolve. Default "main".
	Revision string
	// Concurrency is the number of files fetched in parallel. Default 4.
	Concurrency int
	// Attempts per file. Default 3.
	Attempts   int
	RetryDelay time.Duration
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// HuggingFace fetches artifacts from a Hugging Face Hub compatible server.
// Interrupted files are resumed with Range requests.
type HuggingFace struct {
	cfg HFConfig
	hc  *http.Client
	log zerolog.Logger
}

type sibling struct {
	RFilename string `json:"rfilename"`
}

type repoInfo struct {
	SHA      string    `json:"sha"`
	Siblings []sibling `json:"siblings"`
}

// NewHuggingFace returns a hub-backed Source.
func NewHuggingFace(cfg HFConfig) *HuggingFace {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://huggingface.co"
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Revision == "" {
		cfg.Revision = "main"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	h := &HuggingFace{cfg: cfg, hc: cfg.HTTPClient, log: zerolog.Nop()}
	if h.hc == nil {
		h.hc = &http.Client{}
	}
	if cfg.Logger != nil {
		h.log = cfg.Logger.With().Str("component", "artifacts").Str("source", "huggingface").Logger()
	}
	return h
}

func (h *HuggingFace) Name() string { return "huggingface" }

// ManualCommand is the CLI equivalent of Fetch, shown to operators who
// prefer to download by hand.
func (h *HuggingFace) ManualCommand(modelID, hubDir string) string {
	return fmt.Sprintf("HF_HUB_CACHE=%s huggingface-cli download %s", hubDir, modelID)
}

func (h *HuggingFace) Fetch(ctx context.Context, modelID, hubDir string, progress ProgressFunc) error {
	info, err := h.resolve(ctx, modelID)
	if err != nil {
		return err
	}
	files := lo.Filter(
		lo.Map(info.Siblings, func(s sibling, _ int) string { return s.RFilename }),
		func(name string, _ int) bool { return name != "" && name != ".gitattributes" },
	)
	if len(files) == 0 {
		return fmt.Errorf("%w: %s has no files at %s", ErrUnavailable, modelID, info.SHA)
	}

	dir := snapshotDir(hubDir, modelID, info.SHA)
	h.log.Info().Str("model", modelID).Str("revision", info.SHA).Int("files", len(files)).Msg("fetching artifact")
	report(progress, 0, len(files))

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Concurrency)
	for _, name := range files {
		g.Go(func() error {
			dst, err := safeJoin(dir, name)
			if err != nil {
				return err
			}
			if err := h.fetchFile(gctx, modelID, info.SHA, name, dst); err != nil {
				return fmt.Errorf("fetch %s: %w", name, err)
			}
			report(progress, int(done.Add(1)), len(files))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return writeRef(hubDir, modelID, info.SHA)
}

func (h *HuggingFace) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if h.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	}
	return req, nil
}

func (h *HuggingFace) resolve(ctx context.Context, modelID string) (repoInfo, error) {
	var info repoInfo
	u := fmt.Sprintf("%s/api/models/%s/revision/%s", h.cfg.Endpoint, modelID, url.PathEscape(h.cfg.Revision))
	req, err := h.newRequest(ctx, u)
	if err != nil {
		return info, err
	}
	resp, err := h.hc.Do(req)
	if err != nil {
		return info, fmt.Errorf("resolve %s: %w", modelID, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return info, fmt.Errorf("%w: %s (status %d)", ErrUnavailable, modelID, resp.StatusCode)
	case resp.StatusCode >= 400:
		return info, fmt.Errorf("resolve %s: status %d", modelID, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("decode repo info: %w", err)
	}
	if info.SHA == "" {
		info.SHA = h.cfg.Revision
	}
	return info, nil
}

func (h *HuggingFace) fetchFile(ctx context.Context, modelID, revision, name, dst string) error {
	if fi, err := os.Stat(dst); err == nil && fi.Mode().IsRegular() {
		return nil
	}
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := fmt.Sprintf("%s/%s/resolve/%s/%s", h.cfg.Endpoint, modelID, url.PathEscape(revision), strings.Join(segments, "/"))
	tmp := dst + ".incomplete"

	err := retry.Do(
		func() error { return h.download(ctx, u, tmp) },
		retry.Context(ctx),
		retry.Attempts(uint(h.cfg.Attempts)),
		retry.Delay(h.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			h.log.Warn().Err(err).Str("file", name).Uint("attempt", n+1).Msg("file download failed, resuming")
		}),
	)
	if err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// download appends to tmp, resuming from its current size.
func (h *HuggingFace) download(ctx context.Context, rawURL, tmp string) error {
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return retry.Unrecoverable(err)
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	offset := fi.Size()

	req, err := h.newRequest(ctx, rawURL)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := h.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		return nil
	case resp.StatusCode == http.StatusOK:
		if err := f.Truncate(0); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
	case resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Unrecoverable(fmt.Errorf("status %d", resp.StatusCode))
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return f.Sync()
}
