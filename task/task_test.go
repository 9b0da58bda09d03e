package task

import (
	"reflect"
	"testing"

	"github.com/capport/capport/config"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/model"
)

type fakeTask struct {
	Output string `json:"output"`
}

func (f *fakeTask) Read(ctx *Context) error { return nil }

func TestRegistry(t *testing.T) {
	Add("fake", func() Task { return &fakeTask{} })

	raw, err := GetTask("fake", config.Config{"output": "A"})
	if err != nil {
		t.Fatalf("GetTask failed, %s", err)
	}
	ft, ok := raw.(*fakeTask)
	if !ok || ft.Output != "A" {
		t.Errorf("wrong construction: %+v", raw)
	}
	if _, ok := raw.(Source); !ok {
		t.Errorf("fake should satisfy Source")
	}
	if _, ok := raw.(Sink); ok {
		t.Errorf("fake should not satisfy Sink")
	}

	if _, err := GetTask("ghost", config.Config{}); err == nil {
		t.Errorf("unknown task should fail")
	} else if _, ok := err.(ErrNotFound); !ok {
		t.Errorf("wrong error type, got %T", err)
	}
}

func TestFrameFromJSONArray(t *testing.T) {
	data := []byte(`[{"id": 1, "name": "ana"}, {"id": 2, "name": null}]`)
	f, err := FrameFromJSON(data, nil)
	if err != nil {
		t.Fatalf("FrameFromJSON failed, %s", err)
	}
	if f.NumRows() != 2 {
		t.Errorf("wrong row count, got %d", f.NumRows())
	}
	// without a model, json numbers stay float64
	if _, dt, _ := f.Column("id"); dt.Kind != frame.Float64 {
		t.Errorf("inferred id should be float64, got %s", dt)
	}
}

func TestFrameFromJSONWithModel(t *testing.T) {
	m := &model.Model{Label: "m", Fields: []model.Field{
		{Name: "id", Type: frame.Scalar(frame.UInt64)},
		{Name: "name", Type: frame.Scalar(frame.Str)},
	}}
	f, err := FrameFromJSON([]byte(`{"id": 7, "name": "bo", "extra": true}`), m)
	if err != nil {
		t.Fatalf("FrameFromJSON failed, %s", err)
	}
	if got := f.Schema().Names(); !reflect.DeepEqual(got, []string{"id", "name"}) {
		t.Errorf("model should select the columns, got %v", got)
	}
	v, _ := f.At("id", 0)
	if v != uint64(7) {
		t.Errorf("model should coerce id to uint64, got %v (%T)", v, v)
	}
}

func TestFrameFromJSONNested(t *testing.T) {
	data := []byte(`[{"player": {"id": 1, "tags": ["a", "b"]}}]`)
	f, err := FrameFromJSON(data, nil)
	if err != nil {
		t.Fatalf("FrameFromJSON failed, %s", err)
	}
	_, dt, err := f.Column("player")
	if err != nil || dt.Kind != frame.Struct {
		t.Errorf("nested objects should infer struct, got %s err %v", dt, err)
	}
}
