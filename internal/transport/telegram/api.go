// ABOUTME: Minimal Telegram Bot API client over net/http
// ABOUTME: Long polling, text messages with reply keyboards, multipart uploads and file downloads

package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrFileTooLarge is returned when a download exceeds the configured cap.
var ErrFileTooLarge = errors.New("telegram file too large")

type api struct {
	http    *http.Client
	baseURL string
	token   string
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message,omitempty"`
}

type message struct {
	MessageID int64     `json:"message_id"`
	Date      int64     `json:"date"`
	Chat      *tgChat   `json:"chat,omitempty"`
	From      *user     `json:"from,omitempty"`
	Text      string    `json:"text,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Document  *document `json:"document,omitempty"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type user struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Username string `json:"username,omitempty"`
}

type document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

type file struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

type keyboardButton struct {
	Text string `json:"text"`
}

type replyKeyboard struct {
	Keyboard        [][]keyboardButton `json:"keyboard"`
	OneTimeKeyboard bool               `json:"one_time_keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64          `json:"chat_id"`
	Text        string         `json:"text"`
	ReplyMarkup *replyKeyboard `json:"reply_markup,omitempty"`
}

// response is the envelope every Bot API method returns.
type response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (a *api) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", a.baseURL, a.token, method)
}

// redact strips the bot token from the URL carried by a request error.
// http.Client.Do and http.NewRequest report failures as *url.Error.
func (a *api) redact(err error) error {
	urlErr, ok := err.(*url.Error)
	if !ok || a.token == "" {
		return err
	}
	clean := *urlErr
	clean.URL = strings.ReplaceAll(urlErr.URL, a.token, "<redacted>")
	return &clean
}

// do sends req and decodes the envelope's result into out (when non-nil).
func (a *api) do(req *http.Request, method string, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, a.redact(err))
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	_ = resp.Body.Close()

	var env response
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("telegram %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("telegram %s: decoding response: %w", method, err)
	}
	if !env.OK {
		return fmt.Errorf("telegram %s: %d %s", method, env.ErrorCode, env.Description)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decoding result: %w", method, err)
		}
	}
	return nil
}

func (a *api) getUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]update, int64, error) {
	secs := int(timeout.Seconds())
	if secs < 0 {
		secs = 0
	}
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(secs))
	q.Set("allowed_updates", `["message"]`)
	if offset > 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, a.methodURL("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, offset, a.redact(err)
	}

	var updates []update
	if err := a.do(req, "getUpdates", &updates); err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

func (a *api) sendMessage(ctx context.Context, body sendMessageRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.methodURL("sendMessage"), bytes.NewReader(data))
	if err != nil {
		return a.redact(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, "sendMessage", nil)
}

// sendFile uploads a local file with sendDocument or sendAudio. field is the
// multipart field the method expects ("document" or "audio").
func (a *api) sendFile(ctx context.Context, method, field string, chatID int64, path, filename, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening attachment: %w", err)
	}
	defer f.Close()

	if filename == "" {
		filename = filepath.Base(path)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
				return err
			}
			if caption != "" {
				if err := mw.WriteField("caption", caption); err != nil {
					return err
				}
			}
			part, err := mw.CreateFormFile(field, filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.methodURL(method), pr)
	if err != nil {
		pr.Close()
		return a.redact(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return a.do(req, method, nil)
}

func (a *api) getFile(ctx context.Context, fileID string) (*file, error) {
	q := url.Values{"file_id": {fileID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.methodURL("getFile")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, a.redact(err)
	}
	var out file
	if err := a.do(req, "getFile", &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.FilePath) == "" {
		return nil, fmt.Errorf("telegram getFile: missing file_path")
	}
	return &out, nil
}

// downloadTo streams a file to dst, failing once more than maxBytes arrive.
func (a *api) downloadTo(ctx context.Context, filePath, dst string, maxBytes int64) error {
	u := fmt.Sprintf("%s/file/bot%s/%s", a.baseURL, a.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return a.redact(err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram download: %w", a.redact(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram download: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	n, err := io.Copy(out, io.LimitReader(resp.Body, maxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("telegram download: %w", err)
	}
	if n > maxBytes {
		return fmt.Errorf("%w (>%d bytes)", ErrFileTooLarge, maxBytes)
	}
	return nil
}
