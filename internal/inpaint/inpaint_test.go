package inpaint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngupuk/kupu/internal/model"
	"github.com/ngupuk/kupu/internal/tensor"
)

// fakeModel fills its output with a constant and records the input shapes.
type fakeModel struct {
	mu       sync.Mutex
	value    float32
	channels int64
	err      error
	calls    int
	image    []int64
	mask     []int64
	maskData []float32
}

func (f *fakeModel) Forward(_ context.Context, image, mask tensor.Tensor) (tensor.Tensor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.image = append([]int64(nil), image.Shape...)
	f.mask = append([]int64(nil), mask.Shape...)
	f.maskData = append([]float32(nil), mask.Data...)
	if f.err != nil {
		return tensor.Tensor{}, f.err
	}

	c := f.channels
	if c == 0 {
		c = 3
	}
	shape := []int64{c, image.Shape[1], image.Shape[2]}
	data := make([]float32, int(c*image.Shape[1]*image.Shape[2]))
	for i := range data {
		data[i] = f.value
	}
	return tensor.Tensor{Shape: shape, Data: data}, nil
}

func (f *fakeModel) Device() model.Device { return model.DeviceCPU }

// gradient builds an RGB image whose pixels all differ from 127.
func gradient(h, w int) *tensor.Image {
	img := tensor.NewImage(h, w, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(y, x, 0, uint8(200+(x%50)))
			img.Set(y, x, 1, uint8(y%100))
			img.Set(y, x, 2, uint8(10+(x+y)%20))
		}
	}
	return img
}

func filledMask(h, w int, v uint8) *tensor.Image {
	m := tensor.NewImage(h, w, 1)
	for i := range m.Pix {
		m.Pix[i] = v
	}
	return m
}

func TestInpaintZeroMaskIsIdentity(t *testing.T) {
	fake := &fakeModel{value: 0.5}
	svc := New(fake, DefaultConfig())

	img := gradient(37, 53)
	res, err := svc.Inpaint(context.Background(), img, filledMask(37, 53, 0))
	require.NoError(t, err)

	assert.True(t, res.Image.Equal(img))
	assert.Equal(t, model.DeviceCPU, res.Device)
	assert.False(t, res.Resized)
	assert.Equal(t, []int64{3, 40, 56}, fake.image)
}

func TestInpaintFullMaskReturnsModelOutput(t *testing.T) {
	svc := New(&fakeModel{value: 0.5}, DefaultConfig())

	res, err := svc.Inpaint(context.Background(), gradient(16, 16), filledMask(16, 16, 255))
	require.NoError(t, err)

	for i, v := range res.Image.Pix {
		require.Equal(t, uint8(127), v, "sample %d", i)
	}
}

func TestInpaintCenteredSquare(t *testing.T) {
	fake := &fakeModel{value: 0.5}
	svc := New(fake, DefaultConfig())

	img := gradient(100, 100)
	mask := tensor.NewImage(100, 100, 1)
	for y := 40; y < 60; y++ {
		for x := 40; x < 60; x++ {
			mask.Set(y, x, 0, 255)
		}
	}
	origImg, origMask := img.Clone(), mask.Clone()

	res, err := svc.Inpaint(context.Background(), img, mask)
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 104, 104}, fake.image)
	assert.Equal(t, []int64{1, 104, 104}, fake.mask)
	require.Equal(t, 100, res.Image.H)
	require.Equal(t, 100, res.Image.W)

	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			inside := y >= 40 && y < 60 && x >= 40 && x < 60
			for c := 0; c < 3; c++ {
				if inside {
					require.Equal(t, uint8(127), res.Image.At(y, x, c))
				} else {
					require.Equal(t, img.At(y, x, c), res.Image.At(y, x, c))
				}
			}
		}
	}

	assert.True(t, img.Equal(origImg), "image must not be mutated")
	assert.True(t, mask.Equal(origMask), "mask must not be mutated")
}

func TestInpaintMaskThreshold(t *testing.T) {
	fake := &fakeModel{value: 0.5}
	svc := New(fake, DefaultConfig())

	img := gradient(8, 8)
	mask := tensor.NewImage(8, 8, 1)
	mask.Set(0, 0, 0, 127)
	mask.Set(0, 1, 0, 128)
	mask.Set(0, 2, 0, 129)
	mask.Set(0, 3, 0, 255)

	res, err := svc.Inpaint(context.Background(), img, mask)
	require.NoError(t, err)

	assert.Equal(t, img.At(0, 0, 0), res.Image.At(0, 0, 0))
	assert.Equal(t, img.At(0, 1, 0), res.Image.At(0, 1, 0))
	assert.Equal(t, uint8(127), res.Image.At(0, 2, 0))
	assert.Equal(t, uint8(127), res.Image.At(0, 3, 0))

	// the model sees a strictly binary mask
	for _, v := range fake.maskData {
		require.True(t, v == 0 || v == 1)
	}
	assert.Equal(t, float32(0), fake.maskData[1])
	assert.Equal(t, float32(1), fake.maskData[2])
}

func TestInpaintShapeMismatch(t *testing.T) {
	fake := &fakeModel{}
	svc := New(fake, DefaultConfig())

	tests := []struct {
		name  string
		image *tensor.Image
		mask  *tensor.Image
	}{
		{"size", gradient(10, 10), filledMask(10, 12, 0)},
		{"image channels", tensor.NewImage(10, 10, 1), filledMask(10, 10, 0)},
		{"mask channels", gradient(10, 10), tensor.NewImage(10, 10, 3)},
		{"nil mask", gradient(10, 10), nil},
		{"empty", tensor.NewImage(0, 0, 3), tensor.NewImage(0, 0, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Inpaint(context.Background(), tt.image, tt.mask)
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})
	}
	assert.Zero(t, fake.calls)
}

func TestInpaintModelUnavailable(t *testing.T) {
	svc := New(nil, DefaultConfig())

	assert.False(t, svc.Available())
	assert.Equal(t, model.Device(""), svc.Device())

	_, err := svc.Inpaint(context.Background(), gradient(8, 8), filledMask(8, 8, 0))
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestInpaintBusy(t *testing.T) {
	fake := &fakeModel{value: 0.5}

	t.Run("queue timeout", func(t *testing.T) {
		svc := New(fake, Config{MaxConcurrent: 1, QueueTimeout: 10 * time.Millisecond})
		require.NoError(t, svc.sem.Acquire(context.Background(), 1))
		defer svc.sem.Release(1)

		_, err := svc.Inpaint(context.Background(), gradient(8, 8), filledMask(8, 8, 0))
		assert.ErrorIs(t, err, ErrBusy)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("cancelled request", func(t *testing.T) {
		svc := New(fake, DefaultConfig())
		require.NoError(t, svc.sem.Acquire(context.Background(), 1))
		defer svc.sem.Release(1)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := svc.Inpaint(ctx, gradient(8, 8), filledMask(8, 8, 0))
		assert.ErrorIs(t, err, ErrBusy)
		assert.ErrorIs(t, err, context.Canceled)
	})

	assert.Zero(t, fake.calls)
}

func TestInpaintSlotReleased(t *testing.T) {
	svc := New(&fakeModel{err: &model.InferenceError{Device: model.DeviceCPU, Err: errors.New("oom")}}, DefaultConfig())

	for i := 0; i < 3; i++ {
		_, err := svc.Inpaint(context.Background(), gradient(8, 8), filledMask(8, 8, 255))
		require.ErrorIs(t, err, model.ErrInference)
	}
	assert.True(t, svc.sem.TryAcquire(1))
}

func TestInpaintConcurrent(t *testing.T) {
	svc := New(&fakeModel{value: 0.5}, Config{MaxConcurrent: 2})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Inpaint(context.Background(), gradient(24, 24), filledMask(24, 24, 255))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestInpaintInferenceErrors(t *testing.T) {
	cause := errors.New("kernel launch failed")

	t.Run("forward error", func(t *testing.T) {
		svc := New(&fakeModel{err: &model.InferenceError{Device: model.DeviceCPU, Err: cause}}, DefaultConfig())
		_, err := svc.Inpaint(context.Background(), gradient(8, 8), filledMask(8, 8, 255))
		assert.ErrorIs(t, err, model.ErrInference)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("wrong channel count", func(t *testing.T) {
		svc := New(&fakeModel{channels: 1}, DefaultConfig())
		_, err := svc.Inpaint(context.Background(), gradient(8, 8), filledMask(8, 8, 255))
		assert.ErrorIs(t, err, model.ErrInference)
	})
}

func TestInpaintDownscale(t *testing.T) {
	fake := &fakeModel{value: 0.5}
	svc := New(fake, Config{MaxImageSize: 50})

	img := gradient(100, 200)
	mask := tensor.NewImage(100, 200, 1)
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			mask.Set(y, x, 0, 255)
		}
	}

	res, err := svc.Inpaint(context.Background(), img, mask)
	require.NoError(t, err)

	assert.True(t, res.Resized)
	assert.Equal(t, []int64{3, 32, 56}, fake.image)
	require.Equal(t, 100, res.Image.H)
	require.Equal(t, 200, res.Image.W)

	// compositing happens at full resolution
	assert.Equal(t, img.At(99, 199, 0), res.Image.At(99, 199, 0))
	assert.Equal(t, img.At(60, 150, 1), res.Image.At(60, 150, 1))
}

func TestInferenceSize(t *testing.T) {
	tests := []struct {
		limit, h, w  int
		wantH, wantW int
		wantResized  bool
	}{
		{0, 4000, 3000, 4000, 3000, false},
		{1080, 1080, 720, 1080, 720, false},
		{1080, 2160, 1440, 1080, 720, true},
		{1080, 720, 2160, 360, 1080, true},
		{10, 1, 1000, 1, 10, true},
	}

	for _, tt := range tests {
		svc := New(&fakeModel{}, Config{MaxImageSize: tt.limit})
		h, w, ok := svc.inferenceSize(tt.h, tt.w)
		assert.Equal(t, tt.wantResized, ok)
		assert.Equal(t, tt.wantH, h)
		assert.Equal(t, tt.wantW, w)
	}
}
