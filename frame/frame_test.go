package frame

import (
	"reflect"
	"testing"

	"github.com/capport/capport/errors"
)

var dtypeParseTests = []struct {
	in       string
	expected DType
}{
	{"str", Scalar(Str)},
	{"uint64", Scalar(UInt64)},
	{"datetime", Scalar(Datetime)},
	{"list<int64>", ListOf(Scalar(Int64))},
	{"struct<id:int64,name:str>", StructOf(Field{"id", Scalar(Int64)}, Field{"name", Scalar(Str)})},
	{"list<struct<id:int64,tags:list<str>>>", ListOf(StructOf(Field{"id", Scalar(Int64)}, Field{"tags", ListOf(Scalar(Str))}))},
}

func TestParseDType(t *testing.T) {
	for _, dt := range dtypeParseTests {
		got, err := ParseDType(dt.in)
		if err != nil {
			t.Fatalf("ParseDType(%q) failed, %s", dt.in, err)
		}
		if !got.Equal(dt.expected) {
			t.Errorf("wrong dtype for %q, expected %s, got %s", dt.in, dt.expected, got)
		}
		back, err := ParseDType(got.String())
		if err != nil || !back.Equal(got) {
			t.Errorf("dtype %q did not round-trip through String(), got %s", dt.in, got)
		}
	}
}

func TestParseDTypeErrors(t *testing.T) {
	for _, in := range []string{"", "int7", "list<", "struct<a>", "str>"} {
		if _, err := ParseDType(in); err == nil {
			t.Errorf("ParseDType(%q) should have failed", in)
		}
	}
}

func testFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := New(
		Schema{{"id", Scalar(Int64)}, {"name", Scalar(Str)}, {"score", Scalar(Float64)}},
		[][]interface{}{
			{int64(1), int64(2), int64(3)},
			{"ana", "bob", nil},
			{1.5, nil, 3.5},
		},
	)
	if err != nil {
		t.Fatalf("unable to build test frame, %s", err)
	}
	return f
}

func TestNewValidatesShape(t *testing.T) {
	_, err := New(Schema{{"a", Scalar(Int64)}, {"b", Scalar(Str)}},
		[][]interface{}{{int64(1)}, {"x", "y"}})
	if errors.KindOf(err) != errors.SchemaType {
		t.Errorf("ragged columns should fail SCHEMA_TYPE, got %v", err)
	}
	_, err = New(Schema{{"a", Scalar(Int64)}, {"a", Scalar(Str)}},
		[][]interface{}{{int64(1)}, {"x"}})
	if errors.KindOf(err) != errors.SchemaDup {
		t.Errorf("duplicate names should fail SCHEMA_DUP, got %v", err)
	}
	_, err = New(Schema{{"a", Scalar(Int64)}}, [][]interface{}{{"not an int"}})
	if errors.KindOf(err) != errors.SchemaType {
		t.Errorf("dtype mismatch should fail SCHEMA_TYPE, got %v", err)
	}
}

func TestProjectRenameRoundTrip(t *testing.T) {
	f := testFrame(t)
	p, err := f.Project([]string{"id", "name", "score"})
	if err != nil {
		t.Fatalf("Project failed, %s", err)
	}
	r, err := p.Rename(map[string]string{"id": "id", "name": "name", "score": "score"})
	if err != nil {
		t.Fatalf("Rename failed, %s", err)
	}
	if !r.Equal(f) {
		t.Errorf("full projection under identity rename should equal the original")
	}
}

func TestProjectMissing(t *testing.T) {
	f := testFrame(t)
	_, err := f.Project([]string{"id", "nope"})
	if errors.KindOf(err) != errors.SchemaMissing {
		t.Errorf("expected SCHEMA_MISSING, got %v", err)
	}
}

func TestDropIdempotence(t *testing.T) {
	f := testFrame(t)
	once, err := f.Drop([]string{"score"}, false)
	if err != nil {
		t.Fatalf("Drop failed, %s", err)
	}
	twice, err := f.Drop([]string{"score", "score"}, false)
	if err != nil {
		t.Fatalf("Drop with repeated name failed, %s", err)
	}
	if !once.Equal(twice) {
		t.Errorf("drop([X,X]) should equal drop([X])")
	}

	if _, err := f.Drop([]string{"ghost"}, false); errors.KindOf(err) != errors.SchemaMissing {
		t.Errorf("dropping a missing column should fail, got %v", err)
	}
	same, err := f.Drop([]string{"ghost"}, true)
	if err != nil || !same.Equal(f) {
		t.Errorf("ignore-missing drop should be a no-op, got %v", err)
	}
}

func TestRenameDupTarget(t *testing.T) {
	f := testFrame(t)
	_, err := f.Rename(map[string]string{"id": "name"})
	if errors.KindOf(err) != errors.SchemaDup {
		t.Errorf("expected SCHEMA_DUP, got %v", err)
	}
}

func TestLeftJoin(t *testing.T) {
	left, _ := New(Schema{{"name", Scalar(Str)}}, [][]interface{}{{"ON", "CA"}})
	right, _ := New(Schema{{"name", Scalar(Str)}, {"code", Scalar(Str)}},
		[][]interface{}{{"ON"}, {"ON-CA"}})

	out, err := left.Join(right, JoinLeft, []string{"name"}, []string{"name"}, map[string]string{"code": "code"})
	if err != nil {
		t.Fatalf("Join failed, %s", err)
	}
	expected := []map[string]interface{}{
		{"name": "ON", "code": "ON-CA"},
		{"name": "CA", "code": nil},
	}
	if !reflect.DeepEqual(out.Records(), expected) {
		t.Errorf("wrong join result, expected %v, got %v", expected, out.Records())
	}
}

func TestInnerJoinSymmetry(t *testing.T) {
	a, _ := New(Schema{{"k", Scalar(Int64)}, {"va", Scalar(Str)}},
		[][]interface{}{{int64(1), int64(2)}, {"x", "y"}})
	b, _ := New(Schema{{"k", Scalar(Int64)}, {"vb", Scalar(Str)}},
		[][]interface{}{{int64(2), int64(3)}, {"p", "q"}})

	ab, err := a.Join(b, JoinInner, []string{"k"}, []string{"k"}, nil)
	if err != nil {
		t.Fatalf("Join a->b failed, %s", err)
	}
	ba, err := b.Join(a, JoinInner, []string{"k"}, []string{"k"}, nil)
	if err != nil {
		t.Fatalf("Join b->a failed, %s", err)
	}
	rab, err := ab.Project([]string{"k", "va", "vb"})
	if err != nil {
		t.Fatal(err)
	}
	rba, err := ba.Project([]string{"k", "va", "vb"})
	if err != nil {
		t.Fatal(err)
	}
	if !rab.Equal(rba) {
		t.Errorf("inner join should commute under relabelling, got %v vs %v", rab.Records(), rba.Records())
	}
}

func TestJoinNullKeysNeverMatch(t *testing.T) {
	a, _ := New(Schema{{"k", Scalar(Str)}}, [][]interface{}{{nil, "x"}})
	b, _ := New(Schema{{"k", Scalar(Str)}, {"v", Scalar(Int64)}},
		[][]interface{}{{nil, "x"}, {int64(1), int64(2)}})
	out, err := a.Join(b, JoinInner, []string{"k"}, []string{"k"}, nil)
	if err != nil {
		t.Fatalf("Join failed, %s", err)
	}
	if out.NumRows() != 1 {
		t.Errorf("null keys must not match, expected 1 row, got %d", out.NumRows())
	}
}

func TestCrossJoin(t *testing.T) {
	a, _ := New(Schema{{"x", Scalar(Int64)}}, [][]interface{}{{int64(1), int64(2)}})
	b, _ := New(Schema{{"y", Scalar(Str)}}, [][]interface{}{{"a", "b", "c"}})
	out, err := a.Join(b, JoinCross, nil, nil, nil)
	if err != nil {
		t.Fatalf("cross join failed, %s", err)
	}
	if out.NumRows() != 6 {
		t.Errorf("wrong cross join cardinality, expected 6, got %d", out.NumRows())
	}
	if _, err := a.Join(b, JoinCross, []string{"x"}, []string{"y"}, nil); err == nil {
		t.Errorf("cross join with keys should fail")
	}
}

func TestUnnestStruct(t *testing.T) {
	st := StructOf(Field{"default", Scalar(Str)})
	f, _ := New(Schema{{"id", Scalar(Int64)}, {"firstName", st}},
		[][]interface{}{
			{int64(1)},
			{map[string]interface{}{"default": "Bo"}},
		})
	out, err := f.UnnestStruct("firstName")
	if err != nil {
		t.Fatalf("UnnestStruct failed, %s", err)
	}
	expected := []map[string]interface{}{{"id": int64(1), "default": "Bo"}}
	if !reflect.DeepEqual(out.Records(), expected) {
		t.Errorf("wrong unnest result, expected %v, got %v", expected, out.Records())
	}
}

func TestUnnestListOfStruct(t *testing.T) {
	elem := StructOf(Field{"n", Scalar(Int64)})
	f, _ := New(Schema{{"id", Scalar(Int64)}, {"items", ListOf(elem)}},
		[][]interface{}{
			{int64(1), int64(2)},
			{
				[]interface{}{map[string]interface{}{"n": int64(10)}, map[string]interface{}{"n": int64(11)}},
				[]interface{}{map[string]interface{}{"n": int64(20)}},
			},
		})
	out, err := f.UnnestListOfStruct("items")
	if err != nil {
		t.Fatalf("UnnestListOfStruct failed, %s", err)
	}
	expected := []map[string]interface{}{
		{"id": int64(1), "n": int64(10)},
		{"id": int64(1), "n": int64(11)},
		{"id": int64(2), "n": int64(20)},
	}
	if !reflect.DeepEqual(out.Records(), expected) {
		t.Errorf("wrong explode result, expected %v, got %v", expected, out.Records())
	}
}

func TestStructPath(t *testing.T) {
	inner := StructOf(Field{"default", Scalar(Str)})
	f, _ := New(Schema{{"firstName", inner}},
		[][]interface{}{{map[string]interface{}{"default": "Bo"}}})
	vals, dt, err := f.StructPath([]string{"firstName", "default"})
	if err != nil {
		t.Fatalf("StructPath failed, %s", err)
	}
	if dt.Kind != Str || vals[0] != "Bo" {
		t.Errorf("wrong path values, got %v (%s)", vals, dt)
	}
}

func TestTimeParse(t *testing.T) {
	f, _ := New(Schema{{"d", Scalar(Str)}}, [][]interface{}{{"2024-03-09", nil}})
	out, err := f.TimeParse("d", "%Y-%m-%d", Scalar(Date))
	if err != nil {
		t.Fatalf("TimeParse failed, %s", err)
	}
	_, dt, _ := out.Column("d")
	if dt.Kind != Date {
		t.Errorf("wrong dtype after parse, expected date, got %s", dt)
	}

	bad, _ := New(Schema{{"d", Scalar(Str)}}, [][]interface{}{{"not a date"}})
	if _, err := bad.TimeParse("d", "%Y-%m-%d", Scalar(Date)); errors.KindOf(err) != errors.Coercion {
		t.Errorf("expected COERCION, got %v", err)
	}
}

func TestUniformIDType(t *testing.T) {
	f, _ := New(Schema{{"a", Scalar(Int64)}, {"b", Scalar(Str)}},
		[][]interface{}{{int64(1), int64(2)}, {"10", "11"}})
	out, err := f.UniformIDType([]string{"a", "b"}, Scalar(UInt64))
	if err != nil {
		t.Fatalf("UniformIDType failed, %s", err)
	}
	for _, name := range []string{"a", "b"} {
		_, dt, _ := out.Column(name)
		if dt.Kind != UInt64 {
			t.Errorf("column %q should be uint64, got %s", name, dt)
		}
	}

	neg, _ := New(Schema{{"a", Scalar(Int64)}}, [][]interface{}{{int64(-1)}})
	if _, err := neg.UniformIDType([]string{"a"}, Scalar(UInt64)); errors.KindOf(err) != errors.Coercion {
		t.Errorf("negative to uint should fail COERCION, got %v", err)
	}
}

func TestWithColumnOverwriteTypeConflict(t *testing.T) {
	f := testFrame(t)
	_, err := f.WithColumn("id", Scalar(Str), []interface{}{"a", "b", "c"}, false)
	if errors.KindOf(err) != errors.SchemaType {
		t.Errorf("overwrite with new dtype should fail SCHEMA_TYPE, got %v", err)
	}
	if _, err := f.WithColumn("id", Scalar(Str), []interface{}{"a", "b", "c"}, true); err != nil {
		t.Errorf("retype overwrite should succeed, got %v", err)
	}
}

func TestConcat(t *testing.T) {
	a, _ := New(Schema{{"x", Scalar(Int64)}}, [][]interface{}{{int64(1)}})
	b, _ := New(Schema{{"x", Scalar(Int64)}}, [][]interface{}{{int64(2)}})
	out, err := a.Concat(b)
	if err != nil || out.NumRows() != 2 {
		t.Errorf("concat failed, %v", err)
	}
	c, _ := New(Schema{{"y", Scalar(Int64)}}, [][]interface{}{{int64(3)}})
	if _, err := a.Concat(c); err == nil {
		t.Errorf("concat with mismatched schema should fail")
	}
}

func TestSortBy(t *testing.T) {
	f, _ := New(Schema{{"k", Scalar(Int64)}}, [][]interface{}{{int64(3), int64(1), int64(2)}})
	out, err := f.SortBy([]string{"k"})
	if err != nil {
		t.Fatalf("SortBy failed, %s", err)
	}
	col, _, _ := out.Column("k")
	if !reflect.DeepEqual(col, []interface{}{int64(1), int64(2), int64(3)}) {
		t.Errorf("wrong order, got %v", col)
	}
}
