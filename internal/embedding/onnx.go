package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	onnxModelFile = "model.onnx"
	vocabFile     = "vocab.txt"

	inputIDs      = "input_ids"
	attentionMask = "attention_mask"
	tokenTypeIDs  = "token_type_ids"

	pooledOutput = "sentence_embedding"
)

var ortEnvMu sync.Mutex

// ONNXEncoder runs a BERT-family sentence encoder exported to ONNX. The model
// directory holds model.onnx and vocab.txt.
type ONNXEncoder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *WordPieceTokenizer
	inputNames []string
	output     string
}

// ONNXLoader returns a Loader that treats its location as a model directory.
func ONNXLoader(sharedLibPath string, maxSeqLen int) Loader {
	return func(_ context.Context, dir string) (Encoder, error) {
		return NewONNXEncoder(dir, sharedLibPath, maxSeqLen)
	}
}

func NewONNXEncoder(dir, sharedLibPath string, maxSeqLen int) (*ONNXEncoder, error) {
	modelPath := filepath.Join(dir, onnxModelFile)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx model not found: %w", err)
	}

	if err := initEnvironment(sharedLibPath); err != nil {
		return nil, err
	}

	tokenizer, err := LoadVocab(filepath.Join(dir, vocabFile), maxSeqLen)
	if err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.New("onnx model has no inputs or outputs")
	}

	var inputNames []string
	for _, in := range inputs {
		switch in.Name {
		case inputIDs, attentionMask, tokenTypeIDs:
			inputNames = append(inputNames, in.Name)
		default:
			return nil, fmt.Errorf("onnx model has unexpected input %q", in.Name)
		}
	}
	if !slices.Contains(inputNames, inputIDs) {
		return nil, fmt.Errorf("onnx model has no %s input", inputIDs)
	}

	output := outputs[0].Name
	for _, out := range outputs {
		if out.Name == pooledOutput {
			output = out.Name
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{output}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx new session: %w", err)
	}

	return &ONNXEncoder{
		session:    session,
		tokenizer:  tokenizer,
		inputNames: inputNames,
		output:     output,
	}, nil
}

func initEnvironment(sharedLibPath string) error {
	ortEnvMu.Lock()
	defer ortEnvMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if sharedLibPath != "" {
		ort.SetSharedLibraryPath(sharedLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx init environment: %w", err)
	}
	return nil
}

func (e *ONNXEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := len(texts)
	ids := make([][]int64, batch)
	seqLen := 0
	for i, text := range texts {
		ids[i] = e.tokenizer.Encode(text)
		seqLen = max(seqLen, len(ids[i]))
	}

	flatIDs := make([]int64, batch*seqLen)
	flatMask := make([]int64, batch*seqLen)
	for i, row := range ids {
		for j := 0; j < seqLen; j++ {
			if j < len(row) {
				flatIDs[i*seqLen+j] = row[j]
				flatMask[i*seqLen+j] = 1
			} else {
				flatIDs[i*seqLen+j] = e.tokenizer.PadID()
			}
		}
	}

	shape := ort.NewShape(int64(batch), int64(seqLen))
	inputs := make([]ort.Value, 0, len(e.inputNames))
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	for _, name := range e.inputNames {
		var data []int64
		switch name {
		case inputIDs:
			data = flatIDs
		case attentionMask:
			data = flatMask
		case tokenTypeIDs:
			data = make([]int64, batch*seqLen)
		}
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("onnx new %s tensor: %w", name, err)
		}
		inputs = append(inputs, tensor)
	}

	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer outputs[0].Destroy()

	result, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx output %s is not float32", e.output)
	}
	return pool(result.GetShape(), result.GetData(), flatMask, seqLen)
}

// pool returns per-row vectors. A 2-D output is already pooled; a 3-D
// [batch, seq, hidden] output is mean-pooled over unmasked tokens.
func pool(shape ort.Shape, data []float32, mask []int64, seqLen int) ([][]float32, error) {
	switch len(shape) {
	case 2:
		batch, hidden := int(shape[0]), int(shape[1])
		out := make([][]float32, batch)
		for i := range out {
			out[i] = slices.Clone(data[i*hidden : (i+1)*hidden])
		}
		return out, nil
	case 3:
		batch, seq, hidden := int(shape[0]), int(shape[1]), int(shape[2])
		if seq != seqLen {
			return nil, fmt.Errorf("onnx output sequence length %d, expected %d", seq, seqLen)
		}
		out := make([][]float32, batch)
		for i := 0; i < batch; i++ {
			vec := make([]float32, hidden)
			var count float32
			for j := 0; j < seq; j++ {
				if mask[i*seq+j] == 0 {
					continue
				}
				count++
				row := data[(i*seq+j)*hidden : (i*seq+j+1)*hidden]
				for k, x := range row {
					vec[k] += x
				}
			}
			if count > 0 {
				for k := range vec {
					vec[k] /= count
				}
			}
			out[i] = vec
		}
		return out, nil
	default:
		return nil, fmt.Errorf("onnx output has unsupported rank %d", len(shape))
	}
}

func (e *ONNXEncoder) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
