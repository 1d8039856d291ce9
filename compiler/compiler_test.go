package compiler

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Konsultn-Engineering/rowbind/convert"
	"github.com/Konsultn-Engineering/rowbind/database"
	"github.com/Konsultn-Engineering/rowbind/database/databasetest"
	"github.com/Konsultn-Engineering/rowbind/handler"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

// =========================================================================
// Test Data Structures
// =========================================================================

type Color int

const (
	Red Color = iota
	Green
	Blue
)

type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

var (
	colorNames = map[Color]string{Red: "red", Green: "green", Blue: "blue"}
	_          = schema.RegisterEnum(colorNames)
	_          = schema.RegisterEnum(map[Perm]string{PermRead: "read", PermWrite: "write", PermExec: "exec"}, schema.AsFlags())
)

type User struct {
	Id        int64
	Name      *string
	CreatedAt time.Time
}

type Item struct {
	Id  int64
	Tag Color
}

type Point struct {
	X, Y  int
	Label string
	Built bool `db:"-"`
}

func init() {
	full := func(x, y int, label string) Point { return Point{X: x, Y: y, Label: label, Built: true} }
	if err := schema.RegisterConstructor[Point](full, "x", "y", "label?"); err != nil {
		panic(err)
	}
	short := func(x int) (*Point, error) { return &Point{X: x, Built: true}, nil }
	if err := schema.RegisterConstructor[Point](short, "x"); err != nil {
		panic(err)
	}
}

func ptr[T any](v T) *T { return &v }

func typeOf[T any]() reflect.Type { return reflect.TypeFor[T]() }

// readAll compiles a reader for T and maps every row of cur.
func readAll[T any](t *testing.T, cur *databasetest.Cursor, opts Options) ([]T, error) {
	t.Helper()
	r, err := CompileReader(typeOf[T](), cur.Fields(), opts)
	require.NoError(t, err)

	var out []T
	for cur.Next() {
		v, err := r.Read(cur)
		if err != nil {
			return out, err
		}
		out = append(out, v.Interface().(T))
	}
	return out, cur.Err()
}

var createdAt = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

// =========================================================================
// Read Pipeline
// =========================================================================

func TestReadIgnoresExtraColumn(t *testing.T) {
	cur := databasetest.NewCursor([]schema.FieldDescriptor{
		databasetest.NotNull(databasetest.Field[int64]("id")),
		databasetest.Field[string]("name"),
		databasetest.Field[time.Time]("created_at"),
		databasetest.Field[string]("extra"),
	},
		[]any{int64(1), "ann", createdAt, "x"},
		[]any{int64(2), nil, createdAt, nil},
	)

	users, err := readAll[User](t, cur, Options{})
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, User{Id: 1, Name: ptr("ann"), CreatedAt: createdAt}, users[0])
	assert.Equal(t, User{Id: 2, CreatedAt: createdAt}, users[1])
}

func TestReadUnmatchedMembersKeepZero(t *testing.T) {
	cur := databasetest.NewCursor([]schema.FieldDescriptor{databasetest.Field[string]("unrelated")},
		[]any{"x"},
	)
	users, err := readAll[User](t, cur, Options{})
	require.NoError(t, err)
	assert.Equal(t, []User{{}}, users)
}

func TestReadPointerTarget(t *testing.T) {
	cur := databasetest.NewCursor([]schema.FieldDescriptor{databasetest.Field[int64]("ID")},
		[]any{int64(7)},
	)
	users, err := readAll[*User](t, cur, Options{})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(7), users[0].Id)
}

func TestReadNullGuard(t *testing.T) {
	type Task struct {
		Title    string
		Status   string `db:"status;default:open"`
		Priority *int   `db:"priority;default:3"`
		Count    int
	}
	fields := []schema.FieldDescriptor{
		databasetest.Field[string]("title"),
		databasetest.Field[string]("status"),
		databasetest.Field[int64]("priority"),
		// declared NOT NULL, so unguarded; a stray nil still takes the null branch
		databasetest.NotNull(databasetest.Field[int64]("count")),
	}

	t.Run("defaults", func(t *testing.T) {
		cur := databasetest.NewCursor(fields,
			[]any{nil, nil, nil, nil},
			[]any{nil, nil, nil, nil},
		)
		tasks, err := readAll[Task](t, cur, Options{})
		require.NoError(t, err)
		require.Len(t, tasks, 2)

		assert.Equal(t, "", tasks[0].Title)
		assert.Equal(t, "open", tasks[0].Status)
		require.NotNil(t, tasks[0].Priority)
		assert.Equal(t, 3, *tasks[0].Priority)
		assert.NotSame(t, tasks[0].Priority, tasks[1].Priority)
		assert.Equal(t, 0, tasks[0].Count)
	})

	t.Run("values", func(t *testing.T) {
		cur := databasetest.NewCursor(fields, []any{"a", "done", int64(1), int64(4)})
		tasks, err := readAll[Task](t, cur, Options{})
		require.NoError(t, err)
		assert.Equal(t, Task{Title: "a", Status: "done", Priority: ptr(1), Count: 4}, tasks[0])
	})

	t.Run("strict", func(t *testing.T) {
		cur := databasetest.NewCursor(fields[:1], []any{nil})
		_, err := readAll[Task](t, cur, Options{StrictNulls: true})

		var nv *NullViolationError
		require.ErrorAs(t, err, &nv)
		assert.Equal(t, "Title", nv.Member)
		assert.ErrorIs(t, err, ErrNullViolation)
	})
}

func TestReadBadDefault(t *testing.T) {
	type Bad struct {
		N int `db:"n;default:many"`
	}
	_, err := CompileReader(typeOf[Bad](), []schema.FieldDescriptor{databasetest.Field[int64]("n")}, Options{})
	assert.ErrorIs(t, err, ErrShape)
}

func TestReadEnumPolicyMatrix(t *testing.T) {
	type Paint struct{ Tag Color }
	type Access struct{ Perm Perm }

	tests := []struct {
		name    string
		policy  convert.EnumPolicy
		field   schema.FieldDescriptor
		raw     any
		target  reflect.Type
		want    any
		wantErr error
	}{
		{"cast defined", convert.EnumCast, databasetest.Field[int64]("tag"), int64(1), typeOf[Paint](), Paint{Green}, nil},
		{"cast undefined", convert.EnumCast, databasetest.Field[int64]("tag"), int64(9), typeOf[Paint](), Paint{Color(9)}, nil},
		{"default undefined", convert.EnumValidateOrDefault, databasetest.Field[int64]("tag"), int64(9), typeOf[Paint](), Paint{Red}, nil},
		{"throw undefined", convert.EnumValidateOrThrow, databasetest.Field[int64]("tag"), int64(9), typeOf[Paint](), nil, convert.ErrUndefinedEnum},
		{"throw defined", convert.EnumValidateOrThrow, databasetest.Field[int32]("tag"), int32(2), typeOf[Paint](), Paint{Blue}, nil},
		{"name", convert.EnumValidateOrThrow, databasetest.Field[string]("tag"), "Blue", typeOf[Paint](), Paint{Blue}, nil},
		{"unknown name cast", convert.EnumCast, databasetest.Field[string]("tag"), "purple", typeOf[Paint](), nil, convert.ErrUndefinedEnum},
		{"unknown name default", convert.EnumValidateOrDefault, databasetest.Field[string]("tag"), "purple", typeOf[Paint](), Paint{Red}, nil},
		{"flags always cast", convert.EnumValidateOrThrow, databasetest.Field[int64]("perm"), int64(64), typeOf[Access](), Access{Perm(64)}, nil},
		{"flags names", convert.EnumValidateOrThrow, databasetest.Field[string]("perm"), "read|exec", typeOf[Access](), Access{PermRead | PermExec}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := CompileReader(tt.target, []schema.FieldDescriptor{tt.field}, Options{EnumPolicy: tt.policy})
			require.NoError(t, err)
			cur := databasetest.NewCursor([]schema.FieldDescriptor{tt.field}, []any{tt.raw})
			require.True(t, cur.Next())

			v, err := r.Read(cur)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrConversion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Interface())
		})
	}
}

func TestReadConstructor(t *testing.T) {
	t.Run("widest satisfiable wins", func(t *testing.T) {
		cur := databasetest.NewCursor([]schema.FieldDescriptor{
			databasetest.Field[int64]("x"),
			databasetest.Field[int64]("y"),
		}, []any{int64(1), int64(2)})
		points, err := readAll[Point](t, cur, Options{})
		require.NoError(t, err)
		assert.Equal(t, Point{X: 1, Y: 2, Built: true}, points[0])
	})

	t.Run("narrow constructor then members", func(t *testing.T) {
		cur := databasetest.NewCursor([]schema.FieldDescriptor{
			databasetest.Field[int64]("x"),
			databasetest.Field[string]("label"),
		}, []any{int64(5), "p"})
		points, err := readAll[Point](t, cur, Options{})
		require.NoError(t, err)
		assert.Equal(t, Point{X: 5, Label: "p", Built: true}, points[0])
	})

	t.Run("missing parameter is fatal", func(t *testing.T) {
		_, err := CompileReader(typeOf[Point](), []schema.FieldDescriptor{
			databasetest.Field[int64]("y"),
			databasetest.Field[string]("label"),
		}, Options{})

		var se *ShapeError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "x", se.Field)
		assert.ErrorIs(t, err, ErrShape)
	})
}

func TestReadPlain(t *testing.T) {
	cur := databasetest.NewCursor([]schema.FieldDescriptor{databasetest.Field[int32]("count")},
		[]any{int32(3)},
	)
	counts, err := readAll[int64](t, cur, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, counts)

	cur = databasetest.NewCursor([]schema.FieldDescriptor{databasetest.Field[string]("name")},
		[]any{"a"}, []any{nil},
	)
	names, err := readAll[*string](t, cur, Options{})
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, "a", *names[0])
	assert.Nil(t, names[1])

	_, err = CompileReader(typeOf[int64](), nil, Options{})
	assert.ErrorIs(t, err, ErrShape)
}

func TestReadMapLike(t *testing.T) {
	fields := []schema.FieldDescriptor{
		databasetest.Field[int64]("id"),
		databasetest.Field[string]("ID"),
		databasetest.Untyped(""),
		databasetest.Field[string]("name"),
	}

	t.Run("map", func(t *testing.T) {
		cur := databasetest.NewCursor(fields, []any{int64(1), "dup", "anon", nil})
		rows, err := readAll[map[string]any](t, cur, Options{})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": int64(1), "name": nil}, rows[0])
	})

	t.Run("typed map", func(t *testing.T) {
		cur := databasetest.NewCursor(fields, []any{int64(1), "dup", "anon", "bo"})
		rows, err := readAll[map[string]string](t, cur, Options{})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"id": "1", "name": "bo"}, rows[0])
	})

	t.Run("record", func(t *testing.T) {
		r, err := CompileRecordReader(fields, Options{})
		require.NoError(t, err)
		assert.Equal(t, KindRecordReader, r.Key().Kind)

		cur := databasetest.NewCursor(fields, []any{int64(1), "dup", "anon", "bo"})
		require.True(t, cur.Next())
		v, err := r.Read(cur)
		require.NoError(t, err)

		rec := v.Interface().(*schema.Record)
		assert.Equal(t, []string{"id", "name"}, rec.Names())
		id, ok := rec.Get("ID")
		assert.True(t, ok)
		assert.Equal(t, int64(1), id)
	})

	t.Run("no usable names", func(t *testing.T) {
		_, err := CompileRecordReader([]schema.FieldDescriptor{databasetest.Untyped("")}, Options{})
		assert.ErrorIs(t, err, ErrShape)
	})
}

func TestReadCursorWidth(t *testing.T) {
	fields := []schema.FieldDescriptor{databasetest.Field[int64]("id")}
	r, err := CompileReader(typeOf[User](), fields, Options{})
	require.NoError(t, err)

	cur := databasetest.NewCursor(append(fields, databasetest.Field[string]("name")), []any{int64(1), "a"})
	require.True(t, cur.Next())
	_, err = r.Read(cur)
	assert.ErrorIs(t, err, ErrShape)
}

func TestReadConversionError(t *testing.T) {
	type Person struct{ Age int }
	cur := databasetest.NewCursor([]schema.FieldDescriptor{databasetest.Field[string]("age")},
		[]any{"old"},
	)
	_, err := readAll[Person](t, cur, Options{})

	var ce *ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "age", ce.Field)
	assert.Equal(t, "Age", ce.Member)
	assert.Equal(t, "old", ce.Value)
	assert.ErrorIs(t, err, convert.ErrSyntax)
}

func TestReadRedirectsOnRuntimeType(t *testing.T) {
	// providers that report one type and deliver another still convert
	cur := databasetest.NewCursor([]schema.FieldDescriptor{databasetest.Field[int64]("id")},
		[]any{"12"},
	)
	users, err := readAll[User](t, cur, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(12), users[0].Id)
}

// =========================================================================
// Handlers
// =========================================================================

type Article struct {
	ID    int64
	Title string   `db:"title;handler:upper"`
	Tags  []string `db:"tags;handler:csv"`
}

func articleHandlers() *handler.Registry {
	r := handler.NewRegistry()
	handler.RegisterNamed[string, string](r, "upper", handler.Func[string, string]{
		ReadFunc:  func(s string, _ *handler.Context) (string, error) { return strings.ToUpper(s), nil },
		WriteFunc: func(s string, _ *handler.Context) (string, error) { return strings.ToLower(s), nil },
	})
	handler.RegisterNamed[string, []string](r, "csv", handler.Func[string, []string]{
		ReadFunc: func(s string, ctx *handler.Context) ([]string, error) {
			if ctx.Null {
				return []string{}, nil
			}
			return strings.Split(s, ","), nil
		},
		WriteFunc: func(v []string, _ *handler.Context) (string, error) { return strings.Join(v, ","), nil },
	})
	return r
}

type stamper struct {
	dropRead bool
	calls    int
}

func (s *stamper) Read(a *Article, ctx *handler.Context) (*Article, error) {
	s.calls++
	if s.dropRead {
		return nil, nil
	}
	a.Title += "!"
	return a, nil
}

func (s *stamper) Write(_ database.Statement, a *Article) (*Article, error) {
	a.ID = 100
	return a, nil
}

func TestValueHandlers(t *testing.T) {
	reg := articleHandlers()
	fields := []schema.FieldDescriptor{
		databasetest.Field[int64]("id"),
		databasetest.Field[string]("title"),
		databasetest.Raw(databasetest.Field[string]("tags"), "TEXT"),
	}

	cur := databasetest.NewCursor(fields,
		[]any{int64(1), "hello", "a,b"},
		[]any{int64(2), "x", nil},
	)
	articles, err := readAll[Article](t, cur, Options{Handlers: reg})
	require.NoError(t, err)
	assert.Equal(t, Article{ID: 1, Title: "HELLO", Tags: []string{"a", "b"}}, articles[0])
	assert.Equal(t, []string{}, articles[1].Tags, "handler supplies the null default")

	w, err := CompileWriter(typeOf[Article](), writeFields(fields), Options{Handlers: reg})
	require.NoError(t, err)
	cmd := database.NewCommand("INSERT")
	require.NoError(t, w.Write(cmd, Article{ID: 3, Title: "Hi", Tags: []string{"x", "y"}}))

	title, _ := cmd.Param("title")
	assert.Equal(t, "hi", title.Value)
	tags, _ := cmd.Param("tags")
	assert.Equal(t, "x,y", tags.Value)
	assert.Empty(t, tags.DBType, "handlers own the representation")
}

func TestHandlerTypeMismatch(t *testing.T) {
	reg := handler.NewRegistry()
	handler.RegisterNamed[string, int](reg, "upper", handler.Func[string, int]{})
	_, err := CompileReader(typeOf[Article](), []schema.FieldDescriptor{databasetest.Field[string]("title")}, Options{Handlers: reg})
	assert.ErrorIs(t, err, ErrShape)
}

type cents struct{ n int64 }

type Invoice struct {
	ID     int64
	Amount float64 `db:"amount;handler:cents"`
}

var errNegativeCents = errors.New("negative amount")

func TestHandlerStorageMismatch(t *testing.T) {
	reg := handler.NewRegistry()
	handler.RegisterNamed[cents, float64](reg, "cents", handler.Func[cents, float64]{
		ReadFunc: func(c cents, _ *handler.Context) (float64, error) {
			if c.n < 0 {
				return 0, errNegativeCents
			}
			return float64(c.n) / 100, nil
		},
	})
	fields := []schema.FieldDescriptor{databasetest.Field[int64]("amount")}

	tests := []struct {
		name     string
		raw      any
		want     float64
		wantConv bool
		wantErr  error
	}{
		{"StorageValue", cents{n: 1250}, 12.5, false, nil},
		{"WrongStorageType", int64(1250), 0, true, convert.ErrTypeMismatch},
		{"HandlerErrorUnwrapped", cents{n: -1}, 0, false, errNegativeCents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := databasetest.NewCursor(fields, []any{tt.raw})
			got, err := readAll[Invoice](t, cur, Options{Handlers: reg})
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got[0].Amount)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			var ce *ConversionError
			if !tt.wantConv {
				assert.False(t, errors.As(err, &ce))
				return
			}
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "amount", ce.Field)
			assert.Equal(t, "Amount", ce.Member)
			assert.Equal(t, tt.raw, ce.Value)
		})
	}
}

func TestUnknownNamedHandler(t *testing.T) {
	_, err := CompileReader(typeOf[Article](), []schema.FieldDescriptor{databasetest.Field[string]("title")},
		Options{Handlers: handler.NewRegistry()})
	assert.ErrorIs(t, err, ErrShape)
}

func TestClassHandler(t *testing.T) {
	reg := articleHandlers()
	s := &stamper{}
	handler.RegisterClass[Article](reg, s)
	fields := []schema.FieldDescriptor{databasetest.Field[string]("title")}

	cur := databasetest.NewCursor(fields, []any{"hey"})
	articles, err := readAll[Article](t, cur, Options{Handlers: reg})
	require.NoError(t, err)
	assert.Equal(t, "HEY!", articles[0].Title)

	s.dropRead = true
	cur = databasetest.NewCursor(fields, []any{"hey"})
	_, err = readAll[Article](t, cur, Options{Handlers: reg})
	assert.ErrorIs(t, err, ErrNilInstance)

	w, err := CompileWriter(typeOf[Article](), []schema.FieldDescriptor{databasetest.Param(databasetest.Field[int64]("id"))}, Options{Handlers: reg})
	require.NoError(t, err)
	cmd := database.NewCommand("INSERT")
	a := Article{ID: 1}
	require.NoError(t, w.Write(cmd, a))
	id, _ := cmd.Param("id")
	assert.Equal(t, int64(100), id.Value)
	assert.Equal(t, int64(1), a.ID, "value sources are copied")
}

// =========================================================================
// Write Pipeline
// =========================================================================

func writeFields(fields []schema.FieldDescriptor) []schema.FieldDescriptor {
	out := make([]schema.FieldDescriptor, len(fields))
	for i, f := range fields {
		out[i] = databasetest.Param(f)
	}
	return out
}

var itemFields = []schema.FieldDescriptor{
	databasetest.Param(databasetest.Untyped("id")),
	databasetest.Param(databasetest.Untyped("tag")),
}

func TestWriteEnumBindsUnderlyingValue(t *testing.T) {
	w, err := CompileWriter(typeOf[Item](), itemFields, Options{})
	require.NoError(t, err)

	cmd := database.NewCommand("INSERT")
	require.NoError(t, w.Write(cmd, Item{Id: 5, Tag: Red}))

	params := cmd.Params()
	require.Len(t, params, 2)
	assert.Equal(t, "id", params[0].Name)
	assert.Equal(t, int64(5), params[0].Value)
	assert.Equal(t, "tag", params[1].Name)
	assert.Equal(t, int64(0), params[1].Value)
}

func TestWriteUndefinedEnumFailsBeforeBind(t *testing.T) {
	w, err := CompileWriter(typeOf[Item](), itemFields, Options{EnumPolicy: convert.EnumValidateOrThrow})
	require.NoError(t, err)

	cmd := database.NewCommand("INSERT")
	err = w.Write(cmd, Item{Id: 5, Tag: Color(9)})

	var ce *ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Tag", ce.Member)
	assert.Contains(t, err.Error(), "Tag")
	assert.ErrorIs(t, err, convert.ErrUndefinedEnum)
	assert.Empty(t, cmd.Params(), "nothing is bound")
}

func TestWriteEnumToDecimalColumn(t *testing.T) {
	fields := []schema.FieldDescriptor{
		databasetest.Param(databasetest.Raw(databasetest.Field[string]("tag"), "NUMERIC(5,0)")),
	}
	w, err := CompileWriter(typeOf[Item](), fields, Options{})
	require.NoError(t, err)

	cmd := database.NewCommand("INSERT")
	require.NoError(t, w.Write(cmd, &Item{Tag: Blue}))
	p, _ := cmd.Param("tag")
	assert.Equal(t, "2", p.Value)
	assert.Equal(t, "NUMERIC(5,0)", p.DBType)
}

func TestWriteSources(t *testing.T) {
	w, err := CompileWriter(typeOf[Item](), itemFields, Options{BatchSize: 3})
	require.NoError(t, err)

	tests := []struct {
		name  string
		src   any
		names []string
	}{
		{"value", Item{Id: 1}, []string{"id", "tag"}},
		{"pointer", &Item{Id: 1}, []string{"id", "tag"}},
		{"slice", []Item{{Id: 1}, {Id: 2}}, []string{"id", "tag", "id_1", "tag_1"}},
		{"pointer slice", []*Item{{Id: 1}, {Id: 2}, {Id: 3}}, []string{"id", "tag", "id_1", "tag_1", "id_2", "tag_2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := database.NewCommand("INSERT")
			require.NoError(t, w.Write(cmd, tt.src))
			var names []string
			for _, p := range cmd.Params() {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.names, names)
		})
	}

	cmd := database.NewCommand("INSERT")
	assert.Error(t, w.Write(cmd, make([]Item, 4)), "batch size exceeded")
	assert.Error(t, w.Write(cmd, "nope"))
	assert.Error(t, w.Write(cmd, (*Item)(nil)))
	assert.Error(t, w.Write(cmd, nil))
}

type Account struct {
	ID    int64  `db:"id;identity"`
	Email string `db:"email"`
}

func TestWriteReadBack(t *testing.T) {
	fields := []schema.FieldDescriptor{
		databasetest.Output(databasetest.Field[int64]("id")),
		databasetest.Param(databasetest.NotNull(databasetest.Field[string]("email"))),
	}
	w, err := CompileWriter(typeOf[Account](), fields, Options{BatchSize: 2})
	require.NoError(t, err)

	t.Run("single", func(t *testing.T) {
		acc := &Account{Email: "a@example.com"}
		cmd := database.NewCommand("INSERT")
		require.NoError(t, w.Write(cmd, acc))

		id, _ := cmd.Param("id")
		assert.Equal(t, schema.DirOutput, id.Direction)
		assert.True(t, database.IsDBNull(id.Value))

		require.NoError(t, cmd.Complete(map[string]any{"id": int64(42)}))
		assert.Equal(t, int64(42), acc.ID)
	})

	t.Run("batch", func(t *testing.T) {
		accs := []*Account{{Email: "a"}, {Email: "b"}}
		cmd := database.NewCommand("INSERT")
		require.NoError(t, w.Write(cmd, accs))
		require.NoError(t, cmd.Complete(map[string]any{"id": int32(1), "id_1": int32(2)}))
		assert.Equal(t, int64(1), accs[0].ID)
		assert.Equal(t, int64(2), accs[1].ID)
	})

	t.Run("missing output", func(t *testing.T) {
		cmd := database.NewCommand("INSERT")
		require.NoError(t, w.Write(cmd, &Account{Email: "a"}))
		assert.Error(t, cmd.Complete(map[string]any{}))
	})

	t.Run("needs addressable source", func(t *testing.T) {
		err := w.Write(database.NewCommand("INSERT"), Account{Email: "a"})
		assert.ErrorContains(t, err, "read back")
	})
}

func TestWriteMissingMember(t *testing.T) {
	_, err := CompileWriter(typeOf[Item](), []schema.FieldDescriptor{databasetest.Param(databasetest.Field[string]("nope"))}, Options{})
	var se *ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "nope", se.Field)

	_, err = CompileWriter(typeOf[int](), nil, Options{})
	assert.ErrorIs(t, err, ErrShape)
}

func TestWriteNulls(t *testing.T) {
	type Profile struct{ Name *string }

	nullable, err := CompileWriter(typeOf[Profile](), []schema.FieldDescriptor{
		databasetest.Param(databasetest.Field[string]("name")),
	}, Options{})
	require.NoError(t, err)
	required, err := CompileWriter(typeOf[Profile](), []schema.FieldDescriptor{
		databasetest.Param(databasetest.NotNull(databasetest.Field[string]("name"))),
	}, Options{})
	require.NoError(t, err)

	cmd := database.NewCommand("INSERT")
	require.NoError(t, nullable.Write(cmd, Profile{}))
	p, _ := cmd.Param("name")
	assert.True(t, database.IsDBNull(p.Value))

	err = required.Write(database.NewCommand("INSERT"), Profile{})
	var nv *NullViolationError
	require.ErrorAs(t, err, &nv)
	assert.Equal(t, "Name", nv.Member)

	cmd = database.NewCommand("INSERT")
	require.NoError(t, required.Write(cmd, Profile{Name: ptr("bo")}))
	p, _ = cmd.Param("name")
	assert.Equal(t, "bo", p.Value)
}

func TestWriteMapLike(t *testing.T) {
	fields := []schema.FieldDescriptor{
		databasetest.Param(databasetest.Field[int64]("id")),
		databasetest.Param(databasetest.Field[string]("name")),
		databasetest.Param(databasetest.NotNull(databasetest.Untyped("email"))),
	}

	t.Run("map", func(t *testing.T) {
		w, err := CompileWriter(typeOf[map[string]any](), fields, Options{})
		require.NoError(t, err)

		cmd := database.NewCommand("INSERT")
		require.NoError(t, w.Write(cmd, map[string]any{"ID": 3, "name": nil, "email": "e"}))
		id, _ := cmd.Param("id")
		assert.Equal(t, int64(3), id.Value)
		name, _ := cmd.Param("name")
		assert.True(t, database.IsDBNull(name.Value))
		email, _ := cmd.Param("email")
		assert.Equal(t, "e", email.Value)

		err = w.Write(database.NewCommand("INSERT"), map[string]any{"id": 1})
		assert.ErrorIs(t, err, ErrNullViolation)
	})

	t.Run("record", func(t *testing.T) {
		w, err := CompileWriter(typeOf[*schema.Record](), fields, Options{})
		require.NoError(t, err)

		rec := schema.NewRecord(2)
		rec.Set("id", "9")
		rec.Set("email", "e")
		cmd := database.NewCommand("INSERT")
		require.NoError(t, w.Write(cmd, rec))
		id, _ := cmd.Param("id")
		assert.Equal(t, int64(9), id.Value)
	})

	t.Run("output into map", func(t *testing.T) {
		w, err := CompileWriter(typeOf[map[string]any](), []schema.FieldDescriptor{
			databasetest.Output(databasetest.Field[int64]("id")),
		}, Options{})
		require.NoError(t, err)
		m := map[string]any{}
		cmd := database.NewCommand("INSERT")
		require.NoError(t, w.Write(cmd, m))
		require.NoError(t, cmd.Complete(map[string]any{"id": int64(5)}))
		assert.Equal(t, int64(5), m["id"])
	})
}

func TestWriteMapReadBackCoerces(t *testing.T) {
	fields := []schema.FieldDescriptor{databasetest.Output(databasetest.Untyped("id"))}

	tests := []struct {
		name    string
		src     func() any
		get     func(src any) any
		raw     any
		want    any
		wantErr error
	}{
		{
			name: "IntIntoStringMap",
			src:  func() any { return map[string]string{} },
			get:  func(src any) any { return src.(map[string]string)["id"] },
			raw:  int64(65),
			want: "65",
		},
		{
			name: "TextIntoIntMap",
			src:  func() any { return map[string]int64{} },
			get:  func(src any) any { return src.(map[string]int64)["id"] },
			raw:  "42",
			want: int64(42),
		},
		{
			name:    "BadTextIntoIntMap",
			src:     func() any { return map[string]int64{"id": 7} },
			get:     func(src any) any { return src.(map[string]int64)["id"] },
			raw:     "abc",
			want:    int64(7),
			wantErr: convert.ErrSyntax,
		},
		{
			name: "NullIntoIntMap",
			src:  func() any { return map[string]int64{"id": 7} },
			get:  func(src any) any { return src.(map[string]int64)["id"] },
			raw:  nil,
			want: int64(0),
		},
		{
			name: "IntoRecord",
			src:  func() any { return schema.NewRecord(1) },
			get: func(src any) any {
				v, _ := src.(*schema.Record).Get("id")
				return v
			},
			raw:  int32(9),
			want: int32(9),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src()
			w, err := CompileWriter(reflect.TypeOf(src), fields, Options{})
			require.NoError(t, err)

			cmd := database.NewCommand("INSERT")
			require.NoError(t, w.Write(cmd, src))
			err = cmd.Complete(map[string]any{"id": tt.raw})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				var ce *ConversionError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, "id", ce.Field)
				assert.Equal(t, tt.raw, ce.Value)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, tt.get(src))
		})
	}
}

func TestWriteGenerator(t *testing.T) {
	type Session struct {
		Token string    `db:"token;generator:uuid"`
		Key   uuid.UUID `db:"key;auto_generate"`
	}
	fields := []schema.FieldDescriptor{
		databasetest.Param(databasetest.Field[string]("token")),
		databasetest.Param(databasetest.Field[string]("key")),
	}
	w, err := CompileWriter(typeOf[Session](), fields, Options{})
	require.NoError(t, err)

	s := &Session{}
	cmd := database.NewCommand("INSERT")
	require.NoError(t, w.Write(cmd, s))
	require.NotEmpty(t, s.Token)
	_, err = uuid.Parse(s.Token)
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, s.Key)

	token, _ := cmd.Param("token")
	assert.Equal(t, s.Token, token.Value)
	key, _ := cmd.Param("key")
	assert.Equal(t, s.Key.String(), key.Value)

	preset := &Session{Token: "keep"}
	require.NoError(t, w.Write(database.NewCommand("INSERT"), preset))
	assert.Equal(t, "keep", preset.Token)

	bad := []schema.FieldDescriptor{databasetest.Param(databasetest.Field[string]("token"))}
	type BadGen struct {
		Token string `db:"token;generator:nope"`
	}
	_, err = CompileWriter(typeOf[BadGen](), bad, Options{})
	assert.ErrorIs(t, err, ErrShape)
}

// =========================================================================
// Round Trip and Keys
// =========================================================================

type Order struct {
	ID       int64     `db:"id"`
	Customer string    `db:"customer"`
	Total    float64   `db:"total"`
	Status   Color     `db:"status"`
	Placed   time.Time `db:"placed"`
	Note     *string   `db:"note"`
	Ref      uuid.UUID `db:"ref"`
}

func TestWriteReadRoundTrip(t *testing.T) {
	fields := []schema.FieldDescriptor{
		databasetest.Field[int64]("id"),
		databasetest.Field[string]("customer"),
		databasetest.Field[float64]("total"),
		databasetest.Field[string]("status"),
		databasetest.Field[time.Time]("placed"),
		databasetest.Field[string]("note"),
		databasetest.Field[string]("ref"),
	}
	opts := Options{EnumPolicy: convert.EnumValidateOrThrow}
	w, err := CompileWriter(typeOf[Order](), writeFields(fields), opts)
	require.NoError(t, err)
	r, err := CompileReader(typeOf[Order](), fields, opts)
	require.NoError(t, err)

	orders := []Order{
		{ID: 1, Customer: "ann", Total: 12.5, Status: Green, Placed: createdAt, Note: ptr("rush"), Ref: uuid.New()},
		{ID: 2, Customer: "bo", Status: Red, Placed: createdAt, Ref: uuid.New()},
	}
	for _, want := range orders {
		cmd := database.NewCommand("INSERT")
		require.NoError(t, w.Write(cmd, want))

		row := make([]any, 0, len(fields))
		for _, p := range cmd.Params() {
			if database.IsDBNull(p.Value) {
				row = append(row, nil)
				continue
			}
			row = append(row, p.Value)
		}
		status, _ := cmd.Param("status")
		assert.Equal(t, colorNames[want.Status], status.Value)

		cur := databasetest.NewCursor(fields, row)
		require.True(t, cur.Next())
		got, err := r.Read(cur)
		require.NoError(t, err)
		assert.Equal(t, want, got.Interface())
	}
}

type Shift struct {
	ID     int64
	Start  schema.TimeOfDay
	Length time.Duration
}

func TestWriteReadTemporalAsText(t *testing.T) {
	fields := []schema.FieldDescriptor{
		databasetest.Field[int64]("id"),
		databasetest.Field[string]("start"),
		databasetest.Field[string]("length"),
	}
	w, err := CompileWriter(typeOf[Shift](), writeFields(fields), Options{})
	require.NoError(t, err)
	r, err := CompileReader(typeOf[Shift](), fields, Options{})
	require.NoError(t, err)

	want := Shift{ID: 1, Start: schema.TimeOfDay(9*time.Hour + 15*time.Minute), Length: 7*time.Hour + 30*time.Minute}
	cmd := database.NewCommand("INSERT")
	require.NoError(t, w.Write(cmd, want))

	start, _ := cmd.Param("start")
	assert.Equal(t, "09:15:00", start.Value)
	length, _ := cmd.Param("length")
	assert.Equal(t, "7h30m0s", length.Value)

	cur := databasetest.NewCursor(fields, []any{int64(1), start.Value, length.Value})
	require.True(t, cur.Next())
	got, err := r.Read(cur)
	require.NoError(t, err)
	assert.Equal(t, want, got.Interface())

	// a count of nanoseconds past midnight is not a time of day
	_, err = readAll[Shift](t, databasetest.NewCursor([]schema.FieldDescriptor{databasetest.Field[int64]("start")},
		[]any{int64(30 * time.Hour)}), Options{})
	assert.ErrorIs(t, err, convert.ErrOverflow)
}

func TestCompileIsIdempotent(t *testing.T) {
	fields := []schema.FieldDescriptor{
		databasetest.Field[int64]("id"),
		databasetest.Field[string]("name"),
	}
	a, err := CompileReader(typeOf[User](), fields, Options{})
	require.NoError(t, err)
	b, err := CompileReader(typeOf[User](), fields, Options{})
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, a.Describe(), b.Describe())
	assert.Contains(t, strings.Join(a.Describe(), "\n"), "name -> Name")

	assert.NotEqual(t, a.Key(), KeyFor(KindReader, typeOf[User](), fields[:1], Options{}))
	assert.NotEqual(t, a.Key(), KeyFor(KindReader, typeOf[User](), fields, Options{EnumPolicy: convert.EnumValidateOrThrow}))

	w1 := KeyFor(KindWriter, typeOf[User](), fields, Options{})
	w2 := KeyFor(KindWriter, typeOf[User](), fields, Options{BatchSize: 4})
	assert.NotEqual(t, w1, w2)
	assert.Equal(t, 1, w1.BatchSize)
	assert.Equal(t, 0, a.Key().BatchSize, "readers ignore the batch size")
}

func TestErrorsMatchSentinels(t *testing.T) {
	inner := errors.New("inner")
	ce := &ConversionError{Field: "f", Value: 1, Err: inner}
	assert.ErrorIs(t, ce, ErrConversion)
	assert.ErrorIs(t, ce, inner)
	assert.NotErrorIs(t, ce, ErrShape)

	se := &ShapeError{Type: typeOf[User](), Reason: "r"}
	assert.ErrorIs(t, se, ErrShape)
	assert.Contains(t, se.Error(), "User")

	nv := &NullViolationError{Member: "M", Field: "f"}
	assert.ErrorIs(t, nv, ErrNullViolation)
	assert.Contains(t, nv.Error(), "M")
}

// =========================================================================
// Concurrency
// =========================================================================

func TestConcurrentReadWrite(t *testing.T) {
	readFields := []schema.FieldDescriptor{databasetest.Untyped("id"), databasetest.Field[string]("tag")}
	r, err := CompileReader(typeOf[Item](), readFields, Options{})
	require.NoError(t, err)
	w, err := CompileWriter(typeOf[map[string]any](), []schema.FieldDescriptor{
		databasetest.Param(databasetest.Field[int64]("id")),
	}, Options{})
	require.NoError(t, err)

	// raw values of differing runtime types drive the dynamic plans
	raws := []any{int64(12), int32(12), "12", 12.0, uint8(12)}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				raw := raws[(g+i)%len(raws)]

				cur := databasetest.NewCursor(readFields, []any{raw, "blue"})
				cur.Next()
				v, err := r.Read(cur)
				if assert.NoError(t, err) {
					assert.Equal(t, Item{Id: 12, Tag: Blue}, v.Interface())
				}

				cmd := database.NewCommand("INSERT")
				if assert.NoError(t, w.Write(cmd, map[string]any{"id": raw})) {
					p, _ := cmd.Param("id")
					assert.Equal(t, int64(12), p.Value)
				}
			}
		}(g)
	}
	wg.Wait()
}
