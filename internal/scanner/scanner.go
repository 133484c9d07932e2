// Пакет scanner — клиент внешнего сервиса проверки файлов.
// Проверка асинхронная: отправка файла возвращает ссылку на анализ,
// статус и вердикт которого затем опрашиваются отдельными запросами.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// StatusCompleted — значение статуса завершённого анализа в ответе сканера.
const StatusCompleted = "completed"

// Stats — вердикт анализа: количество детектов по категориям.
type Stats struct {
	Malicious        int `json:"malicious"`
	Suspicious       int `json:"suspicious"`
	Undetected       int `json:"undetected"`
	Harmless         int `json:"harmless"`
	Timeout          int `json:"timeout"`
	ConfirmedTimeout int `json:"confirmed-timeout"`
	Failure          int `json:"failure"`
	TypeUnsupported  int `json:"type-unsupported"`
}

// Safe возвращает true, если файл признан безопасным: нет вредоносных
// и подозрительных детектов, безвредные не ушли в минус.
func (s Stats) Safe() bool {
	return s.Harmless >= 0 && s.Malicious <= 0 && s.Suspicious <= 0
}

// Analysis — состояние анализа, возвращаемое сканером.
type Analysis struct {
	// Status — статус анализа; завершён при StatusCompleted.
	Status string
	// Stats — вердикт, заполнен для завершённого анализа.
	Stats Stats
}

// Completed сообщает, завершён ли анализ.
func (a Analysis) Completed() bool {
	return a.Status == StatusCompleted
}

// Client отправляет файлы сканеру и опрашивает статусы анализов.
type Client interface {
	// Submit отправляет файл на проверку и возвращает URL анализа.
	Submit(ctx context.Context, filePath string, size int64) (string, error)
	// GetAnalysis возвращает текущее состояние анализа по его URL.
	GetAnalysis(ctx context.Context, analysisURL string) (Analysis, error)
}

// httpClient — реализация Client поверх net/http.
type httpClient struct {
	baseURL      string
	apiKey       string
	bigThreshold int64
	bigSuffix    string
	client       *http.Client
	logger       *slog.Logger
}

// Config — параметры клиента сканера.
type Config struct {
	// BaseURL — endpoint отправки файлов.
	BaseURL string
	// APIKey передаётся в заголовке x-apikey.
	APIKey string
	// BigThreshold — размер, начиная с которого используется big scan endpoint.
	BigThreshold int64
	// BigSuffix — суффикс пути big scan endpoint.
	BigSuffix string
	// Timeout HTTP-запросов.
	Timeout time.Duration
}

// New создаёт клиент сканера.
func New(cfg Config, logger *slog.Logger) Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &httpClient{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		bigThreshold: cfg.BigThreshold,
		bigSuffix:    cfg.BigSuffix,
		client:       &http.Client{Timeout: timeout},
		logger:       logger.With("component", "scanner-client"),
	}
}

// submitResponse — ответ сканера на отправку файла.
type submitResponse struct {
	Data struct {
		Links struct {
			Self string `json:"self"`
		} `json:"links"`
	} `json:"data"`
}

// analysisResponse — ответ сканера на запрос статуса анализа.
type analysisResponse struct {
	Data struct {
		Attributes struct {
			Status string `json:"status"`
			Stats  Stats  `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

func (c *httpClient) Submit(ctx context.Context, filePath string, size int64) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("открытие файла для отправки: %w", err)
	}
	defer f.Close()

	// Большие файлы уходят на отдельный endpoint
	url := c.baseURL
	if size >= c.bigThreshold {
		url += c.bigSuffix
	}

	// Тело собирается через pipe, чтобы не держать весь файл в памяти
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return "", fmt.Errorf("создание запроса к сканеру: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("отправка файла сканеру: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("сканер вернул статус %d: %s", resp.StatusCode, body)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("разбор ответа сканера: %w", err)
	}
	if sr.Data.Links.Self == "" {
		return "", fmt.Errorf("сканер не вернул ссылку на анализ")
	}

	c.logger.Debug("файл отправлен на проверку",
		"file", filepath.Base(filePath), "analysis_url", sr.Data.Links.Self)
	return sr.Data.Links.Self, nil
}

func (c *httpClient) GetAnalysis(ctx context.Context, analysisURL string) (Analysis, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, analysisURL, nil)
	if err != nil {
		return Analysis{}, fmt.Errorf("создание запроса статуса анализа: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Analysis{}, fmt.Errorf("запрос статуса анализа: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Analysis{}, fmt.Errorf("сканер вернул статус %d: %s", resp.StatusCode, body)
	}

	var ar analysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return Analysis{}, fmt.Errorf("разбор статуса анализа: %w", err)
	}

	return Analysis{
		Status: ar.Data.Attributes.Status,
		Stats:  ar.Data.Attributes.Stats,
	}, nil
}
