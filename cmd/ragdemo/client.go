package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const clientTimeout = 10 * time.Second

// client issues requests against a running service and prints the JSON
// response.
type client struct {
	addr *string
	http *http.Client
}

func (c *client) httpClient() *http.Client {
	if c.http == nil {
		c.http = &http.Client{Timeout: clientTimeout}
	}
	return c.http
}

func (c *client) url(path string) string {
	return strings.TrimRight(*c.addr, "/") + path
}

func (c *client) post(cmd *cobra.Command, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, c.url(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(cmd, req)
}

func (c *client) get(cmd *cobra.Command, path string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	return c.do(cmd, req)
}

func (c *client) do(cmd *cobra.Command, req *http.Request) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
			return fmt.Errorf("%s %s: %s (%d)", req.Method, req.URL.Path, e.Detail, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(cmd.OutOrStdout())
	return err
}
