package matcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"attendance/internal/fingerprint"
)

const visionModel = openai.ChatModelGPT4_1Mini

const visionSystemPrompt = `You compare a query photo of a person against a gallery of reference photos.
Each reference photo is labeled with an identity id. Answer with a single JSON object:
{"faces": <number of faces visible in the query photo>,
 "identity_id": "<id of the best matching reference, or empty string>",
 "confidence": <0..1 how certain you are the query shows the same person>}
Report the single best reference even when unsure; never invent an id that was not given.`

// VisionResolver implements the matcher contract on top of a vision-capable
// chat model. Used when no dedicated face service is deployed.
type VisionResolver struct {
	client  *openai.Client
	maxSize int
}

// NewVisionResolver creates a resolver backed by the OpenAI API.
func NewVisionResolver(apiKey string) *VisionResolver {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &VisionResolver{client: &client, maxSize: 512}
}

type visionVerdict struct {
	Faces      int     `json:"faces"`
	IdentityID string  `json:"identity_id"`
	Confidence float64 `json:"confidence"`
}

// Resolve sends the query and gallery as image parts and maps the model's
// verdict onto the matcher result taxonomy.
func (v *VisionResolver) Resolve(ctx context.Context, query []byte, candidates []Candidate) (Result, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, 2*len(candidates)+2)
	parts = append(parts, openai.TextContentPart("Query photo:"))
	queryPart, err := v.imagePart(query)
	if err != nil {
		return Result{}, err
	}
	parts = append(parts, queryPart)

	for _, cand := range candidates {
		part, err := v.imagePart(cand.Photo)
		if err != nil {
			return Result{}, fmt.Errorf("candidate %s: %w", cand.IdentityID, err)
		}
		parts = append(parts, openai.TextContentPart("Reference photo for identity id "+cand.IdentityID+":"))
		parts = append(parts, part)
	}

	resp, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: visionModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(visionSystemPrompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: parts,
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens: openai.Int(200),
	})
	if err != nil {
		return Result{}, fmt.Errorf("vision API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("no response from vision API")
	}

	var verdict visionVerdict
	raw := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return Result{}, fmt.Errorf("malformed vision response %q: %w", raw, err)
	}

	switch {
	case verdict.Faces == 0:
		return Result{Status: StatusNoFace}, nil
	case verdict.Faces > 1:
		return Result{Status: StatusMultipleFaces}, nil
	case verdict.IdentityID == "":
		return Result{Status: StatusNoMatch, BestConfidence: verdict.Confidence}, nil
	}
	if !knownCandidate(candidates, verdict.IdentityID) {
		return Result{}, fmt.Errorf("vision response named unknown identity %q", verdict.IdentityID)
	}
	return Result{
		Status:         StatusMatch,
		IdentityID:     verdict.IdentityID,
		Confidence:     verdict.Confidence,
		BestConfidence: verdict.Confidence,
	}, nil
}

// imagePart downsizes the photo to save tokens and wraps it as a data URL part.
func (v *VisionResolver) imagePart(data []byte) (openai.ChatCompletionContentPartUnionParam, error) {
	resized, err := fingerprint.Normalize(data, v.maxSize)
	if err != nil {
		return openai.ChatCompletionContentPartUnionParam{}, err
	}
	url := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(resized)
	return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
		URL:    url,
		Detail: "low",
	}), nil
}

func knownCandidate(candidates []Candidate, id string) bool {
	for _, cand := range candidates {
		if cand.IdentityID == id {
			return true
		}
	}
	return false
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
