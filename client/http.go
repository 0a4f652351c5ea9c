package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"medishare/module/chat/model"
)

// HTTPClient reads the chat list and room history over the plain HTTP
// surface. History is fetched outside the realtime channel, typically once
// when a room opens (and manually after a reconnect, since missed messages
// are not replayed).
type HTTPClient struct {
	BaseURL    string
	Credential string
	HTTPClient *http.Client
}

func NewHTTPClient(baseURL, credential string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		Credential: credential,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ChatList returns one entry per room the caller participates in.
func (c *HTTPClient) ChatList() ([]model.ChatSummary, error) {
	var out []model.ChatSummary
	if err := c.get("/api/chats", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the ordered message log for a listing's room.
func (c *HTTPClient) History(listingID string) ([]model.Message, error) {
	var out []model.Message
	if err := c.get("/api/chats/"+listingID+"/messages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) get(path string, into any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Credential)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Msg string `json:"msg"`
		}
		_ = json.Unmarshal(body, &errResp)
		return fmt.Errorf("chat api error %d: %s", resp.StatusCode, errResp.Msg)
	}
	return json.Unmarshal(body, into)
}
