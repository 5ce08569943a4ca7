package questionsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepdesk/prepdesk-backend/internal/model"
)

// RankingClient fetches adaptive question sets from the external ranking
// service. The service's selection logic is opaque; this client only
// enforces the ordered, fixed-size contract. Implements
// engine.QuestionSource.
type RankingClient struct {
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger
}

// NewRankingClient creates a new RankingClient.
func NewRankingClient(baseURL string, log zerolog.Logger) *RankingClient {
	return &RankingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("component", "ranking_client").Logger(),
	}
}

type questionsResponse struct {
	Questions []model.Question `json:"questions"`
}

// FetchQuestions requests count ranked questions. The returned order is
// preserved exactly as the service supplied it.
func (c *RankingClient) FetchQuestions(ctx context.Context, count int) ([]model.Question, error) {
	url := c.baseURL + "/v1/questions?count=" + strconv.Itoa(count)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ranking service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ranking service: unexpected status %d", resp.StatusCode)
	}

	var body questionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	c.log.Debug().Int("requested", count).Int("received", len(body.Questions)).Msg("Questions fetched")
	return body.Questions, nil
}
