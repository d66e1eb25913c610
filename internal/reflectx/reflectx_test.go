package reflectx

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timedLong struct {
	Tm   int64
	Data int32
}

func TestEmptyValue(t *testing.T) {
	assert.Equal(t, 0, EmptyValue[int]())
	assert.Equal(t, "", EmptyValue[string]())
	assert.Nil(t, EmptyValue[*int]())
	assert.Nil(t, EmptyValue[[]string]())
	assert.Equal(t, timedLong{}, EmptyValue[timedLong]())
}

func TestGetTypeName(t *testing.T) {
	tests := map[string]struct {
		typ  reflect.Type
		want string
	}{
		"predeclared": {typ: reflect.TypeFor[int](), want: "int"},
		"named":       {typ: reflect.TypeFor[timedLong](), want: "reflectx.timedLong"},
		"pointer":     {typ: reflect.TypeFor[*timedLong](), want: "*reflectx.timedLong"},
		"slice":       {typ: reflect.TypeFor[[]string](), want: "[]string"},
		"nil":         {typ: nil, want: "nil"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetTypeName(tt.typ))
		})
	}
}

func TestTypeNames(t *testing.T) {
	assert.Equal(t, "reflectx.timedLong", TypeNameOf(timedLong{}))
	assert.Equal(t, "*reflectx.timedLong", TypeNameOf(&timedLong{}))
	assert.Equal(t, "reflectx.timedLong", TypeNameFor[timedLong]())
	assert.Equal(t, "float64", TypeNameFor[float64]())
}

func TestIterateStructFields(t *testing.T) {
	s := &timedLong{Tm: 1, Data: 2}
	var fields []string
	err := IterateStructFields(s, func(_ reflect.Value, sf reflect.StructField, target reflect.Type) error {
		assert.Equal(t, reflect.TypeFor[*timedLong](), target)
		fields = append(fields, sf.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Tm", "Data"}, fields)

	stop := errors.New("stop")
	calls := 0
	err = IterateStructFields(s, func(reflect.Value, reflect.StructField, reflect.Type) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	err = IterateStructFields(timedLong{})
	assert.EqualError(t, err, "target must be a struct pointer, got 'reflectx.timedLong'")

	var nilPtr *timedLong
	assert.Error(t, IterateStructFields(nilPtr))
}

func TestSetFieldValue(t *testing.T) {
	s := &timedLong{}
	v := reflect.ValueOf(s).Elem()
	sf, _ := v.Type().FieldByName("Data")
	require.NoError(t, SetFieldValue(v.FieldByName("Data"), sf, int32(7)))
	assert.Equal(t, int32(7), s.Data)

	type hidden struct{ n int }
	h := reflect.ValueOf(&hidden{}).Elem()
	hsf, _ := h.Type().FieldByName("n")
	assert.EqualError(t, SetFieldValue(h.FieldByName("n"), hsf, 1), "field 'n' is not settable")
}

func TestGetCallerName(t *testing.T) {
	fn, file, line := GetCallerName(1)
	assert.True(t, strings.HasSuffix(fn, "reflectx.TestGetCallerName"), fn)
	assert.Equal(t, "reflectx/reflectx_test.go", FormatFileName(file))
	assert.Positive(t, line)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "ec.(*worker).tick", FormatFunctionName("github.com/n-ando/OpenRTM-aist-sub001/ec.(*worker).tick"))
	assert.Equal(t, "main.main", FormatFunctionName("main.main"))
	assert.Equal(t, "bar/baz.go", FormatFileName("/foo/bar/baz.go"))
}

func TestIsPointerStruct(t *testing.T) {
	assert.True(t, IsPointerStruct(reflect.ValueOf(&timedLong{})))
	assert.False(t, IsPointerStruct(reflect.ValueOf(timedLong{})))
	assert.False(t, IsPointerStruct(reflect.ValueOf(42)))
	assert.False(t, IsPointerStruct(reflect.ValueOf((*timedLong)(nil))))
}

func sampleFunc() {}

func TestFuncLocation(t *testing.T) {
	name, loc := FuncLocation(sampleFunc)
	assert.Equal(t, "reflectx.sampleFunc", name)
	assert.True(t, strings.HasPrefix(loc, "reflectx/reflectx_test.go:"), loc)
}
