// Copyright 2025 Plenum Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package advisor integrates an external language model as the
// chamber's procedural advisor. The advisor is strictly read-only: it
// answers questions and summarizes motions but can never publish
// state. All failures degrade to a fixed apology so the chamber keeps
// functioning without the upstream service.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/plenumlabs/plenum/entity"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"

	defaultTimeout = 30 * time.Second

	// personaInstruction frames every request. The advisor answers as
	// a parliamentary clerk, never as a participant.
	personaInstruction = "You are the procedural advisor of a " +
		"parliamentary chamber. Answer concisely and formally, " +
		"citing standing orders where relevant. You advise on " +
		"procedure and summarize motions; you never express a " +
		"position on the merits of any question before the chamber."

	// FallbackReply is returned whenever the upstream service cannot
	// be reached or returns an unusable response
	FallbackReply = "The advisor is momentarily unavailable. " +
		"The chamber may proceed under standing orders."
)

type ClientConfig struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Model      string
}

type Client struct {
	config ClientConfig
	logger *slog.Logger
}

func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	return &Client{
		config: config,
		logger: config.Logger.With("component", "advisor"),
	}
}

// Enabled reports whether an upstream credential is configured
func (c *Client) Enabled() bool {
	return c.config.APIKey != ""
}

// Ask poses a free-form procedural question. It never returns an
// error; any failure yields the fallback reply.
func (c *Client) Ask(ctx context.Context, question string) string {
	reply, err := c.generate(ctx, question)
	if err != nil {
		c.logger.Warn("advisor request failed", "error", err)
		return FallbackReply
	}
	return reply
}

// SummarizeMotion produces a short neutral summary of a motion's text
func (c *Client) SummarizeMotion(
	ctx context.Context,
	motion entity.Motion,
) string {
	prompt := fmt.Sprintf(
		"Summarize the following motion in at most three sentences, "+
			"without taking a position.\n\nTitle: %s\n\n%s",
		motion.Title,
		motion.Body,
	)
	return c.Ask(ctx, prompt)
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) generate(
	ctx context.Context,
	prompt string,
) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("no API key configured")
	}
	reqBody := generateRequest{
		Contents: []content{
			{Parts: []part{{Text: prompt}}},
		},
		SystemInstruction: &content{
			Parts: []part{{Text: personaInstruction}},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf(
		"%s/v1beta/models/%s:generateContent",
		strings.TrimSuffix(c.config.BaseURL, "/"),
		c.config.Model,
	)
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf(
			"unexpected status %d from advisor service",
			resp.StatusCode,
		)
	}
	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if len(decoded.Candidates) == 0 ||
		len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from advisor service")
	}
	reply := strings.TrimSpace(
		decoded.Candidates[0].Content.Parts[0].Text,
	)
	if reply == "" {
		return "", fmt.Errorf("blank reply from advisor service")
	}
	return reply, nil
}
