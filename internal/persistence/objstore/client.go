// Package objstore uploads finished log files to an S3-compatible bucket
// (Cloudflare R2, MinIO, AWS S3) using SigV4 signed PUTs.
package objstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	sigAlgorithm = "AWS4-HMAC-SHA256"
	sigService   = "s3"
)

// Config names a bucket and its credentials. Region defaults to "auto",
// which is what R2 expects.
type Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// ConfigFromEnv reads HT_OBJSTORE_ENDPOINT, HT_OBJSTORE_BUCKET,
// HT_OBJSTORE_REGION, HT_OBJSTORE_ACCESS_KEY_ID and
// HT_OBJSTORE_SECRET_ACCESS_KEY. ok is false when the endpoint or bucket
// is unset.
func ConfigFromEnv() (cfg Config, ok bool) {
	cfg = Config{
		Endpoint:        strings.TrimSpace(os.Getenv("HT_OBJSTORE_ENDPOINT")),
		Bucket:          strings.TrimSpace(os.Getenv("HT_OBJSTORE_BUCKET")),
		Region:          strings.TrimSpace(os.Getenv("HT_OBJSTORE_REGION")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("HT_OBJSTORE_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("HT_OBJSTORE_SECRET_ACCESS_KEY")),
	}
	return cfg, cfg.Endpoint != "" && cfg.Bucket != ""
}

type Client struct {
	endpoint string
	bucket   string
	region   string
	keyID    string
	secret   string
	hc       *http.Client
	now      func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("objstore: endpoint, bucket and credentials are required")
	}
	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("objstore: parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("objstore: invalid endpoint %q", cfg.Endpoint)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	return &Client{
		endpoint: strings.TrimRight(u.String(), "/"),
		bucket:   cfg.Bucket,
		region:   region,
		keyID:    cfg.AccessKeyID,
		secret:   cfg.SecretAccessKey,
		hc:       &http.Client{Timeout: 2 * time.Minute},
		now:      time.Now,
	}, nil
}

// PutFile uploads localPath as key.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	key = cleanKey(key)
	if key == "" {
		return fmt.Errorf("objstore: empty object key")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("objstore: %s is a directory", localPath)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	payloadHash := hex.EncodeToString(h.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	uri := "/" + c.bucket + "/" + escapeKey(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+uri, f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", "application/zstd")
	c.sign(req, uri, payloadHash)

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("objstore: put %s: status=%d body=%s", key, resp.StatusCode, strings.TrimSpace(string(body)))
}

// sign adds SigV4 headers for an unqueried request whose signed headers are
// host, x-amz-content-sha256 and x-amz-date.
func (c *Client) sign(req *http.Request, uri, payloadHash string) {
	now := c.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	day := now.Format("20060102")
	host := req.URL.Host

	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)

	const signed = "host;x-amz-content-sha256;x-amz-date"
	canonical := strings.Join([]string{
		req.Method,
		uri,
		"",
		"host:" + host + "\nx-amz-content-sha256:" + payloadHash + "\nx-amz-date:" + amzDate + "\n",
		signed,
		payloadHash,
	}, "\n")
	scope := day + "/" + c.region + "/" + sigService + "/aws4_request"
	sum := sha256.Sum256([]byte(canonical))
	toSign := sigAlgorithm + "\n" + amzDate + "\n" + scope + "\n" + hex.EncodeToString(sum[:])

	k := hmacSHA256([]byte("AWS4"+c.secret), day)
	k = hmacSHA256(k, c.region)
	k = hmacSHA256(k, sigService)
	k = hmacSHA256(k, "aws4_request")
	sig := hex.EncodeToString(hmacSHA256(k, toSign))

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigAlgorithm, c.keyID, scope, signed, sig))
}

func hmacSHA256(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(data))
	return m.Sum(nil)
}

// cleanKey normalizes slashes and rejects keys escaping the bucket root.
func cleanKey(key string) string {
	key = strings.TrimPrefix(strings.TrimSpace(strings.ReplaceAll(key, "\\", "/")), "/")
	if key == "" {
		return ""
	}
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return ""
	}
	return key
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}
