package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archiviz-render-server/modules/common/config"
	"archiviz-render-server/modules/common/credit"
	geminiclient "archiviz-render-server/modules/common/gemini"
	"archiviz-render-server/modules/common/utils"
	"archiviz-render-server/modules/history"
)

func testConfig() *config.Config {
	return &config.Config{
		GeminiImageModel:     "image-model",
		GeminiAnalysisModel:  "analysis-model",
		CreditCostGeneration: 5,
		CreditCostUpscale:    10,
		CreditCostAnalysis:   1,
		CreditCostStyleImage: 5,
	}
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeDispatcher - records requests and replies per call index
type fakeDispatcher struct {
	requests []*geminiclient.Request
	respond  func(call int, req *geminiclient.Request) (*geminiclient.Result, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req *geminiclient.Request) (*geminiclient.Result, error) {
	call := len(f.requests)
	f.requests = append(f.requests, req)
	return f.respond(call, req)
}

func imageResponder(data []byte) func(int, *geminiclient.Request) (*geminiclient.Result, error) {
	return func(int, *geminiclient.Request) (*geminiclient.Result, error) {
		return &geminiclient.Result{ImageData: data, MIMEType: "image/png"}, nil
	}
}

type deduction struct {
	userID string
	amount int
}

// fakeCredits - in-memory credit store
type fakeCredits struct {
	balance    int
	admin      bool
	deductions []deduction
}

func (f *fakeCredits) Balance(ctx context.Context, userID string) (int, bool, error) {
	return f.balance, f.admin, nil
}

func (f *fakeCredits) Deduct(ctx context.Context, userID, jobID string, amount int, description string) error {
	f.deductions = append(f.deductions, deduction{userID: userID, amount: amount})
	return nil
}

func newTestService(dispatcher Dispatcher, credits credit.Store) (*Service, *history.Store) {
	store := history.NewStore()
	svc := NewService(testConfig(), dispatcher, credits, store)
	svc.SetPacing(0)
	return svc, store
}

func baseRequests(t *testing.T, n int) []*GenerationRequest {
	t.Helper()
	base := encodePNG(t, 64, 64)
	reqs := make([]*GenerationRequest, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, &GenerationRequest{
			Task:        TaskPerspective,
			BaseImage:   base,
			Instruction: "golden hour",
		})
	}
	return reqs
}

func TestGenerateBatchSuccess(t *testing.T) {
	output := encodePNG(t, 32, 32)
	dispatcher := &fakeDispatcher{respond: imageResponder(output)}
	credits := &fakeCredits{balance: 100}
	svc, store := newTestService(dispatcher, credits)

	batch, err := svc.GenerateBatch(context.Background(), "user-1", baseRequests(t, 3))
	require.NoError(t, err)

	assert.Len(t, dispatcher.requests, 3, "three inputs mean three sequential upstream calls")
	assert.Len(t, batch.Results, 3)
	assert.Equal(t, "perspective", batch.TaskType)
	assert.Equal(t, "golden hour", batch.Prompt)

	assert.Equal(t, 1, store.Len(), "the whole batch lands as one history entry")

	require.Len(t, credits.deductions, 1, "one debit covering the whole batch")
	assert.Equal(t, 15, credits.deductions[0].amount, "generation cost scales with item count")
	assert.Equal(t, "user-1", credits.deductions[0].userID)
}

func TestGenerateBatchFailureDiscardsPartials(t *testing.T) {
	output := encodePNG(t, 32, 32)
	dispatcher := &fakeDispatcher{
		respond: func(call int, req *geminiclient.Request) (*geminiclient.Result, error) {
			if call == 1 {
				return nil, errors.New("INVALID_ARGUMENT: bad image")
			}
			return &geminiclient.Result{ImageData: output, MIMEType: "image/png"}, nil
		},
	}
	credits := &fakeCredits{balance: 100}
	svc, store := newTestService(dispatcher, credits)

	_, err := svc.GenerateBatch(context.Background(), "user-1", baseRequests(t, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch failed at image 2")

	assert.Len(t, dispatcher.requests, 2, "processing stops at the failing item")
	assert.Equal(t, 0, store.Len(), "a failed batch leaves no history entry")
	assert.Empty(t, credits.deductions, "a failed batch costs nothing")
}

func TestGenerateBatchInsufficientCredits(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: imageResponder(encodePNG(t, 8, 8))}
	credits := &fakeCredits{balance: 14} // 3 items cost 15
	svc, _ := newTestService(dispatcher, credits)

	_, err := svc.GenerateBatch(context.Background(), "user-1", baseRequests(t, 3))
	require.ErrorIs(t, err, credit.ErrInsufficientCredits)
	assert.Empty(t, dispatcher.requests, "credits are verified before any dispatch")
}

func TestGenerateBatchAdminBypass(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: imageResponder(encodePNG(t, 8, 8))}
	credits := &fakeCredits{balance: 0, admin: true}
	svc, _ := newTestService(dispatcher, credits)

	_, err := svc.GenerateBatch(context.Background(), "admin-1", baseRequests(t, 2))
	assert.NoError(t, err, "admin members bypass the balance check")
}

func TestGenerateBatchValidation(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: imageResponder(encodePNG(t, 8, 8))}
	svc, _ := newTestService(dispatcher, &fakeCredits{balance: 100})

	_, err := svc.GenerateBatch(context.Background(), "user-1", nil)
	assert.Error(t, err, "empty batch is rejected")

	base := encodePNG(t, 8, 8)
	tooManyRefs := &GenerationRequest{
		Task:            TaskPerspective,
		BaseImage:       base,
		Instruction:     "x",
		ReferenceImages: [][]byte{base, base, base, base},
	}
	_, err = svc.GenerateBatch(context.Background(), "user-1", []*GenerationRequest{tooManyRefs})
	assert.Error(t, err, "more than three reference images are rejected")
	assert.Empty(t, dispatcher.requests)
}

func TestGenerateOnePayloadShape(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: imageResponder(encodePNG(t, 8, 8))}
	svc, _ := newTestService(dispatcher, &fakeCredits{balance: 100})

	// oversized landscape base with no explicit aspect or instruction
	_, err := svc.GenerateOne(context.Background(), &GenerationRequest{
		Task:      TaskFacade,
		BaseImage: encodePNG(t, 4096, 2048),
	})
	require.NoError(t, err)
	require.Len(t, dispatcher.requests, 1)

	req := dispatcher.requests[0]
	assert.Equal(t, "image-model", req.Model)

	// base image part first, resized to the transmission cap
	require.NotNil(t, req.Parts[0].InlineData)
	w, h, err := utils.ImageDimensions(req.Parts[0].InlineData.Data)
	require.NoError(t, err)
	assert.LessOrEqual(t, w, utils.MaxBaseEdge)
	assert.LessOrEqual(t, h, utils.MaxBaseEdge)

	// prompt part last, carrying the facade default instruction
	prompt := req.Parts[len(req.Parts)-1].Text
	assert.Contains(t, prompt, "[TASK - FACADE ELEVATION]")
	assert.Contains(t, prompt, DefaultInstruction(TaskFacade))

	// aspect inferred from the base image, default 1K tier, no search tool
	require.NotNil(t, req.Config.ImageConfig)
	assert.Equal(t, "16:9", req.Config.ImageConfig.AspectRatio)
	assert.Equal(t, "1K", req.Config.ImageConfig.ImageSize)
	assert.Equal(t, []string{"IMAGE", "TEXT"}, req.Config.ResponseModalities)
	assert.Empty(t, req.Config.Tools)
}

func TestGenerateOneProjectContextEnablesSearch(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: imageResponder(encodePNG(t, 8, 8))}
	svc, _ := newTestService(dispatcher, &fakeCredits{balance: 100})

	_, err := svc.GenerateOne(context.Background(), &GenerationRequest{
		Task:           TaskPerspective,
		BaseImage:      encodePNG(t, 64, 64),
		Instruction:    "dusk",
		ProjectContext: "https://example.com/brief",
	})
	require.NoError(t, err)

	require.Len(t, dispatcher.requests, 1)
	require.Len(t, dispatcher.requests[0].Config.Tools, 1)
	assert.NotNil(t, dispatcher.requests[0].Config.Tools[0].GoogleSearch)
}

func TestUpscale(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: imageResponder(encodePNG(t, 16, 16))}
	credits := &fakeCredits{balance: 100}
	svc, _ := newTestService(dispatcher, credits)

	result, err := svc.Upscale(context.Background(), "user-1", encodePNG(t, 64, 64))
	require.NoError(t, err)
	assert.NotEmpty(t, result.ImageData)

	require.Len(t, dispatcher.requests, 1)
	req := dispatcher.requests[0]
	assert.Equal(t, "2K", req.Config.ImageConfig.ImageSize, "upscale always targets the 2K tier")
	assert.Contains(t, req.Parts[len(req.Parts)-1].Text, "[TASK - UPSCALE]")

	require.Len(t, credits.deductions, 1)
	assert.Equal(t, 10, credits.deductions[0].amount)
}

func TestAnalyze(t *testing.T) {
	dispatcher := &fakeDispatcher{
		respond: func(int, *geminiclient.Request) (*geminiclient.Result, error) {
			return &geminiclient.Result{Text: "brutalist concrete, overcast light"}, nil
		},
	}
	credits := &fakeCredits{balance: 100}
	svc, _ := newTestService(dispatcher, credits)

	text, err := svc.Analyze(context.Background(), "user-1", encodePNG(t, 64, 64), "")
	require.NoError(t, err)
	assert.Equal(t, "brutalist concrete, overcast light", text)

	require.Len(t, dispatcher.requests, 1)
	req := dispatcher.requests[0]
	assert.Equal(t, "analysis-model", req.Model)
	assert.Equal(t, []string{"TEXT"}, req.Config.ResponseModalities)
	assert.Contains(t, req.Parts[len(req.Parts)-1].Text, "Describe this architectural render",
		"an empty question falls back to the default")

	require.Len(t, credits.deductions, 1)
	assert.Equal(t, 1, credits.deductions[0].amount)
}

func TestGenerateStyleImages(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: imageResponder(encodePNG(t, 16, 16))}
	credits := &fakeCredits{balance: 100}
	svc, _ := newTestService(dispatcher, credits)

	results, err := svc.GenerateStyleImages(context.Background(), "user-1",
		[]string{"japanese zen garden", "industrial loft", "mediterranean courtyard"}, "")
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Len(t, dispatcher.requests, 3)

	assert.Equal(t, "1:1", dispatcher.requests[0].Config.ImageConfig.AspectRatio,
		"style images default to square")

	require.Len(t, credits.deductions, 1)
	assert.Equal(t, 15, credits.deductions[0].amount)
}

func TestGenerateStyleImagesFailureDiscardsBatch(t *testing.T) {
	dispatcher := &fakeDispatcher{
		respond: func(call int, req *geminiclient.Request) (*geminiclient.Result, error) {
			if call == 1 {
				return nil, errors.New("INVALID_ARGUMENT: rejected")
			}
			return &geminiclient.Result{ImageData: []byte{1}, MIMEType: "image/png"}, nil
		},
	}
	credits := &fakeCredits{balance: 100}
	svc, _ := newTestService(dispatcher, credits)

	_, err := svc.GenerateStyleImages(context.Background(), "user-1", []string{"a", "b", "c"}, "1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "style batch failed at image 2")
	assert.Empty(t, credits.deductions)
}

func TestGenerateOneNoImageInResponse(t *testing.T) {
	dispatcher := &fakeDispatcher{
		respond: func(int, *geminiclient.Request) (*geminiclient.Result, error) {
			return &geminiclient.Result{Text: "I cannot do that"}, nil
		},
	}
	svc, _ := newTestService(dispatcher, &fakeCredits{balance: 100})

	_, err := svc.GenerateOne(context.Background(), &GenerationRequest{
		Task:        TaskPerspective,
		Instruction: "sunset",
	})
	require.ErrorIs(t, err, geminiclient.ErrNoContent)
}
