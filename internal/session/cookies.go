package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const httpOnlyPrefix = "#HttpOnly_"

// LoadCookies reads a cookie file in either Netscape format (.txt) or a
// flat JSON mapping of name to value (.json). JSON cookies carry no
// domain and are attached to every request by the session.
func LoadCookies(path string) ([]*http.Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSONCookies(data)
	case ".txt":
		return parseNetscapeCookies(data)
	}

	// Unknown extension, sniff the content.
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return parseJSONCookies(data)
	}
	return parseNetscapeCookies(data)
}

// parseNetscapeCookies parses the seven tab-separated fields of the
// Netscape cookie file format: domain, include-subdomains, path,
// secure, expiry, name, value. The #HttpOnly_ prefix marks a cookie
// line rather than a comment.
func parseNetscapeCookies(data []byte) ([]*http.Cookie, error) {
	var cookies []*http.Cookie

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		}

		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("malformed cookie on line %d: expected 7 fields, got %d", lineNumber, len(fields))
		}

		cookie := &http.Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Name:     fields[5],
			Value:    fields[6],
			HttpOnly: httpOnly,
		}

		if expires, err := strconv.ParseInt(fields[4], 10, 64); err == nil && expires > 0 {
			cookie.Expires = time.Unix(expires, 0)
		}

		cookies = append(cookies, cookie)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading cookie file: %w", err)
	}

	return cookies, nil
}

func parseJSONCookies(data []byte) ([]*http.Cookie, error) {
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse JSON cookie file: %w", err)
	}

	cookies := make([]*http.Cookie, 0, len(values))
	for name, value := range values {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	return cookies, nil
}
