package szurubooru

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"boorusync/internal/logger"
	"boorusync/internal/session"
)

// cacheTTL bounds how long single-tag reads and reverse-search results
// are reused. Long enough to serve one reconciliation pass, short enough
// that a retry after a conflict sees fresh state.
const cacheTTL = 15 * time.Second

// Client speaks the destination's JSON API over the shared session.
type Client struct {
	sess    *session.Session
	urlBase string
	header  http.Header
	retry   session.RetryPolicy

	tagCache    *ttlCache
	searchCache *ttlCache
}

func newClient(sess *session.Session, urlBase, username, password string) *Client {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		header.Set("Authorization", "Token "+token)
	}

	return &Client{
		sess:        sess,
		urlBase:     strings.TrimRight(urlBase, "/"),
		header:      header,
		retry:       session.DefaultRetryPolicy(),
		tagCache:    newTTLCache(cacheTTL),
		searchCache: newTTLCache(cacheTTL),
	}
}

// do runs one JSON round trip. Transient failures are retried under the
// client's policy; the marshalled body is replayed from memory on every
// attempt.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s body: %w", path, err)
		}
	}

	endpoint := c.urlBase + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return c.retry.Do(ctx, method+" "+path, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		applyHeader(req, c.header)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.sess.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read %s response: %w", path, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return decodeError(resp.StatusCode, data)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
		return nil
	})
}

func applyHeader(req *http.Request, header http.Header) {
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
}

func pageParams(query string, offset, limit int) url.Values {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))
	if query != "" {
		params.Set("query", query)
	}
	return params
}

func (c *Client) searchPosts(ctx context.Context, query string, offset, limit int) (*postPage, error) {
	page := &postPage{}
	if err := c.do(ctx, http.MethodGet, "/api/posts/", pageParams(query, offset, limit), nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) searchTags(ctx context.Context, query string, offset, limit int) (*tagPage, error) {
	page := &tagPage{}
	if err := c.do(ctx, http.MethodGet, "/api/tags/", pageParams(query, offset, limit), nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) searchPools(ctx context.Context, query string, offset, limit int) (*poolPage, error) {
	page := &poolPage{}
	if err := c.do(ctx, http.MethodGet, "/api/pools/", pageParams(query, offset, limit), nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// getTag fetches a single tag by any of its names. Hits are cached.
func (c *Client) getTag(ctx context.Context, name string) (*wireTag, error) {
	if cached, ok := c.tagCache.get(name); ok {
		return cached.(*wireTag), nil
	}

	tag := &wireTag{}
	if err := c.do(ctx, http.MethodGet, "/api/tag/"+url.PathEscape(name), nil, nil, tag); err != nil {
		return nil, err
	}
	c.tagCache.put(name, tag)
	return tag, nil
}

func (c *Client) createTag(ctx context.Context, body tagWrite) (*wireTag, error) {
	defer c.forgetTag(body.Names...)

	tag := &wireTag{}
	if err := c.do(ctx, http.MethodPost, "/api/tags", nil, body, tag); err != nil {
		return nil, err
	}
	return tag, nil
}

func (c *Client) updateTag(ctx context.Context, name string, body tagWrite) (*wireTag, error) {
	defer c.forgetTag(append([]string{name}, body.Names...)...)

	tag := &wireTag{}
	if err := c.do(ctx, http.MethodPut, "/api/tag/"+url.PathEscape(name), nil, body, tag); err != nil {
		return nil, err
	}
	return tag, nil
}

func (c *Client) deleteTag(ctx context.Context, name string, version int) error {
	defer c.forgetTag(name)

	body := map[string]int{"version": version}
	return c.do(ctx, http.MethodDelete, "/api/tag/"+url.PathEscape(name), nil, body, nil)
}

func (c *Client) mergeTags(ctx context.Context, remove, mergeTo *wireTag) (*wireTag, error) {
	defer c.forgetTag(remove.Names...)
	defer c.forgetTag(mergeTo.Names...)

	body := tagMerge{
		RemoveVersion:  remove.Version,
		Remove:         firstName(remove),
		MergeToVersion: mergeTo.Version,
		MergeTo:        firstName(mergeTo),
	}

	merged := &wireTag{}
	if err := c.do(ctx, http.MethodPost, "/api/tag-merge/", nil, body, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// forgetTag drops cached reads for the given names once a write touched
// them. Failed writes invalidate too, a rejection usually means the
// cached copy was stale.
func (c *Client) forgetTag(names ...string) {
	for _, name := range names {
		c.tagCache.remove(name)
	}
}

func (c *Client) createPost(ctx context.Context, body postWrite) (*wirePost, error) {
	post := &wirePost{}
	if err := c.do(ctx, http.MethodPost, "/api/posts/", nil, body, post); err != nil {
		return nil, err
	}
	return post, nil
}

func (c *Client) updatePost(ctx context.Context, id int, body postWrite) (*wirePost, error) {
	post := &wirePost{}
	if err := c.do(ctx, http.MethodPut, "/api/post/"+strconv.Itoa(id), nil, body, post); err != nil {
		return nil, err
	}
	return post, nil
}

// uploadTemporaryFile streams a local file to the uploads endpoint and
// returns the content token the server minted for it. Uploads are not
// retried: the multipart body cannot be rewound once sent.
func (c *Client) uploadTemporaryFile(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	pipeReader, pipeWriter := io.Pipe()
	form := multipart.NewWriter(pipeWriter)
	go func() {
		part, err := form.CreateFormFile("content", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = form.Close()
		}
		_ = pipeWriter.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.urlBase+"/api/uploads", pipeReader)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	applyHeader(req, c.header)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.sess.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeError(resp.StatusCode, data)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}

	logger.Debug("uploaded temporary file", "path", path, "token", out.Token)
	return out.Token, nil
}

// reverseSearch asks the destination for posts visually similar to an
// uploaded file. Results are cached per token.
func (c *Client) reverseSearch(ctx context.Context, token string) (*imageSearchResult, error) {
	if cached, ok := c.searchCache.get(token); ok {
		return cached.(*imageSearchResult), nil
	}

	result := &imageSearchResult{}
	body := map[string]string{"contentToken": token}
	if err := c.do(ctx, http.MethodPost, "/api/posts/reverse-search", nil, body, result); err != nil {
		return nil, err
	}
	c.searchCache.put(token, result)
	return result, nil
}

// ttlCache memoizes recent responses so the tag dance and repeated
// reverse searches within one page job do not hammer the destination.
type ttlCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   any
	expires time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, entries: map[string]cacheEntry{}}
}

func (c *ttlCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *ttlCache) put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: time.Now().Add(c.ttl)}
}

func (c *ttlCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
