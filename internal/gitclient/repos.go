package gitclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// Repository — срез метаданных репозитория, нужный syncer'у и валидаторам.
type Repository struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Archived      bool   `json:"archived"`
	Private       bool   `json:"private"`
	PushedAt      string `json:"pushed_at"`
}

// FileContent — ответ contents API (base64-кодированное тело + SHA для апдейтов).
type FileContent struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

var linkNextRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// ListRepositories выкачивает все страницы /orgs/{org}/repos, уважая
// rate limit на каждой странице (каждый Do берет свой токен).
func (c *Client) ListRepositories(ctx context.Context, org string, pageSize int, ttl time.Duration) ([]Repository, error) {
	if org == "" {
		return nil, fmt.Errorf("list repositories: org is required")
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(pageSize))
	q.Set("type", "all")

	var all []Repository
	next := "/orgs/" + org + "/repos"
	query := q

	for next != "" {
		resp, err := c.Do(ctx, Request{
			Method:   http.MethodGet,
			Path:     next,
			Query:    query,
			CacheTTL: ttl,
		})
		if err != nil {
			return nil, fmt.Errorf("list repositories page: %w", err)
		}

		var page []Repository
		if err := decodeBody(resp, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)

		// Пагинация по Link-заголовку; абсолютный URL уже содержит query
		next = nextLink(resp.Header)
		query = nil
	}

	return all, nil
}

// GetRepository — метаданные одного репозитория.
func (c *Client) GetRepository(ctx context.Context, fullName string, ttl time.Duration) (*Repository, error) {
	var repo Repository
	if err := c.GetJSON(ctx, "/repos/"+fullName, nil, ttl, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// GetContent читает файл contents API; декодирует base64 на месте.
func (c *Client) GetContent(ctx context.Context, fullName, path string, ttl time.Duration) (*FileContent, []byte, error) {
	var fc FileContent
	if err := c.GetJSON(ctx, "/repos/"+fullName+"/contents/"+path, nil, ttl, &fc); err != nil {
		return nil, nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(fc.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("decode content of %s: %w", path, err)
	}
	return &fc, raw, nil
}

// PutContent создает/обновляет файл (PUT contents API). sha пустой — создание.
// Мутация: кэш не используется и инвалидируется целиком.
func (c *Client) PutContent(ctx context.Context, fullName, path, message, branch string, content []byte, sha string) error {
	body := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if branch != "" {
		body["branch"] = branch
	}
	if sha != "" {
		body["sha"] = sha
	}

	_, err := c.Do(ctx, Request{
		Method: http.MethodPut,
		Path:   "/repos/" + fullName + "/contents/" + path,
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("put content %s: %w", path, err)
	}

	c.PurgeCache()
	return nil
}

// DeleteContent удаляет файл (откат для транзакций syncer'а).
func (c *Client) DeleteContent(ctx context.Context, fullName, path, message, branch, sha string) error {
	body := map[string]any{
		"message": message,
		"sha":     sha,
	}
	if branch != "" {
		body["branch"] = branch
	}

	_, err := c.Do(ctx, Request{
		Method: http.MethodDelete,
		Path:   "/repos/" + fullName + "/contents/" + path,
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("delete content %s: %w", path, err)
	}

	c.PurgeCache()
	return nil
}

func decodeBody(resp *Response, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func nextLink(h http.Header) string {
	link := h.Get("Link")
	if link == "" {
		return ""
	}
	match := linkNextRe.FindStringSubmatch(link)
	if match == nil {
		return ""
	}
	return match[1]
}
