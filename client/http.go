package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// StatusError is returned when the node answers with an unexpected status.
type StatusError struct {
	Code    int    // Code is the HTTP status code
	Message string // Message is the error field of the response, if any
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}

	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// get performs a GET request and decodes the JSON response.
func (c *Client) get(path string, result any) error {
	url := "http://" + c.nodeAddr + path

	resp, err := c.http.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s:\n%w", url, readStatusError(resp))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// post performs a POST request with JSON body and decodes the JSON response.
func (c *Client) post(path string, body any, result any) error {
	url := "http://" + c.nodeAddr + path

	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body:\n%w", err)
	}

	resp, err := c.http.Post(url, "application/json", bytes.NewReader(jsonBytes))
	if err != nil {
		return fmt.Errorf("POST %s:\n%w", url, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("POST %s:\n%w", url, readStatusError(resp))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// readStatusError builds a StatusError from an error response.
func readStatusError(resp *http.Response) *StatusError {
	var body struct {
		Error string `json:"error"`
	}

	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}

// drainClose fully reads and closes a response body so the connection
// can be reused.
func drainClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
