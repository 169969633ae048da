package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/upstream"
)

// ErrNoDiagnosis means the service answered but identified no disease.
var ErrNoDiagnosis = errors.New("no diagnosis available")

// Diagnoser is the slow, specific disease identification step.
type Diagnoser interface {
	Diagnose(ctx context.Context, imagePath string) (*entities.Diagnosis, error)
}

const kindwiseDetails = "common_names,wiki_description,treatment,symptoms"

// KindwiseClient talks to the crop.health identification API. The upstream must carry
// the Api-Key header.
type KindwiseClient struct {
	up *upstream.Upstream
}

func NewKindwiseClient(up *upstream.Upstream) *KindwiseClient {
	return &KindwiseClient{up: up}
}

type kwIdentification struct {
	AccessToken string `json:"access_token"`
}

type kwSuggestion struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
	Details     *struct {
		CommonNames     []string `json:"common_names"`
		WikiDescription *struct {
			Value string `json:"value"`
		} `json:"wiki_description"`
		Treatment map[string]json.RawMessage `json:"treatment"`
		Symptoms  json.RawMessage            `json:"symptoms"`
	} `json:"details"`
}

type kwDetails struct {
	Result *struct {
		Disease *struct {
			Suggestions []kwSuggestion `json:"suggestions"`
		} `json:"disease"`
	} `json:"result"`
}

func (k *KindwiseClient) Diagnose(ctx context.Context, imagePath string) (*entities.Diagnosis, error) {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	var ident kwIdentification
	body := map[string][]string{"images": {base64.StdEncoding.EncodeToString(img)}}
	if err := k.up.PostJSON(ctx, "/identification", body, &ident); err != nil {
		return nil, fmt.Errorf("identification: %w", err)
	}
	if ident.AccessToken == "" {
		return nil, fmt.Errorf("identification returned no access token: %w", ErrNoDiagnosis)
	}

	var det kwDetails
	path := "/identification/" + url.PathEscape(ident.AccessToken) + "?details=" + url.QueryEscape(kindwiseDetails)
	if err := k.up.GetJSON(ctx, path, &det); err != nil {
		return nil, fmt.Errorf("identification details: %w", err)
	}
	if det.Result == nil || det.Result.Disease == nil || len(det.Result.Disease.Suggestions) == 0 {
		return nil, ErrNoDiagnosis
	}
	return toDiagnosis(det.Result.Disease.Suggestions[0]), nil
}

func toDiagnosis(s kwSuggestion) *entities.Diagnosis {
	d := &entities.Diagnosis{Name: s.Name, Probability: s.Probability}
	if d.Name == "" {
		d.Name = "unknown"
	}
	if s.Details == nil {
		return d
	}
	d.CommonNames = strings.Join(s.Details.CommonNames, ", ")
	if s.Details.WikiDescription != nil {
		d.Description = s.Details.WikiDescription.Value
	}
	d.Symptoms = flattenText(s.Details.Symptoms, ". ")

	var parts []string
	for _, key := range []string{"prevention", "biological", "chemical"} {
		if txt := flattenText(s.Details.Treatment[key], ", "); txt != "" {
			parts = append(parts, key+": "+txt)
		}
	}
	d.Treatment = strings.Join(parts, "\n")
	return d
}

// flattenText renders a JSON string, list of strings or object of strings as text.
func flattenText(raw json.RawMessage, sep string) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, sep)
	}
	var obj map[string]string
	if json.Unmarshal(raw, &obj) == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]string, 0, len(keys))
		for _, k := range keys {
			vals = append(vals, obj[k])
		}
		return strings.Join(vals, sep)
	}
	return ""
}
