package recognize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/vortexbot/vortex/internal/media"
	"github.com/vortexbot/vortex/pkg/logger"
)

const searchResultLimit = 5

// searchSimilarityThreshold is the minimum title similarity a search
// hit must reach against the query before it is accepted. Stops a
// catalogue search for an obscure track returning an unrelated
// best-seller.
const searchSimilarityThreshold = 0.4

type searchResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []searchResultItem `json:"results"`
}

type searchResultItem struct {
	ArtistName   string `json:"artistName"`
	TrackName    string `json:"trackName"`
	TrackViewURL string `json:"trackViewUrl"`
}

// SearchByQuery resolves a previously-identified title/artist pair
// back to a retrievable source via the music catalogue search API.
// This is a plain text lookup, not a re-recognition. A nil result
// means nothing suitable was found.
func (service *Service) SearchByQuery(ctx context.Context, query string) *media.RecognitionMatch {
	endpoint := fmt.Sprintf("%s?term=%s&media=music&entity=song&limit=%d",
		service.config.SearchEndpoint, url.QueryEscape(query), searchResultLimit)

	var decoded searchResponse
	if err := service.httpGetJSONResponse(ctx, endpoint, &decoded); err != nil {
		log.Emit(logger.WARNING, "Catalogue search for '%s' failed (%v) - treating as no match\n", query, err)
		return nil
	}

	if decoded.ResultCount == 0 || len(decoded.Results) == 0 {
		return nil
	}

	best := pickBestResult(decoded.Results, query)
	if best == nil {
		log.Emit(logger.DEBUG, "Catalogue search for '%s' returned no sufficiently similar hit\n", query)
		return nil
	}

	return &media.RecognitionMatch{
		Title:       orUnknown(best.TrackName),
		Artist:      orUnknown(best.ArtistName),
		ExternalURL: best.TrackViewURL,
	}
}

// pickBestResult ranks the hits by string similarity between the
// query and each hit's "title - artist" label, returning the most
// similar hit provided it clears the acceptance threshold.
func pickBestResult(results []searchResultItem, query string) *searchResultItem {
	metric := metrics.NewJaroWinkler()

	bestScore := -1.0
	bestIndex := -1
	for i, result := range results {
		label := fmt.Sprintf("%s - %s", result.TrackName, result.ArtistName)
		score := strutil.Similarity(label, query, metric)
		if score > bestScore {
			bestScore = score
			bestIndex = i
		}
	}

	if bestIndex == -1 || bestScore < searchSimilarityThreshold {
		return nil
	}

	return &results[bestIndex]
}

func (service *Service) httpGetJSONResponse(ctx context.Context, endpoint string, target interface{}) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	response, err := service.client.Do(request)
	if err != nil {
		return fmt.Errorf("failed to perform GET(%s): %w", endpoint, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("catalogue search returned HTTP %d", response.StatusCode)
	}

	if err := json.Unmarshal(responseBody, target); err != nil {
		return fmt.Errorf("response JSON could not be unmarshalled: %w", err)
	}

	return nil
}
