package admin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/ringside/internal/engine"
)

const testPassword = "muay-thai-2026"

var testNow = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

type fakeMedia struct {
	names []string
	body  []byte
}

func (f *fakeMedia) Put(_ context.Context, name, contentType string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.names = append(f.names, name)
	f.body = data
	return "/media/2026/10/" + name, nil
}

type testEnv struct {
	store  *engine.Store
	media  *fakeMedia
	router *mux.Router
	cookie *http.Cookie
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	store, err := engine.OpenDB("sqlite3", ":memory:", engine.Schema(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	store.SetClock(func() time.Time { return testNow })

	bus := engine.NewBus(store, nil)
	engine.RegisterHandlers(bus)

	fm := &fakeMedia{}
	h, err := New(Config{Store: store, Bus: bus, Media: fm, SiteName: "Ringside"})
	require.NoError(t, err)

	router := mux.NewRouter()
	router.Use(engine.AuthMiddleware(store, "", nil))
	h.Mount(router)

	ctx := context.Background()
	admin, err := store.UpsertAdmin(ctx, "kru@example.com", "Kru Dam", testPassword)
	require.NoError(t, err)
	token, _, err := store.CreateSession(ctx, admin.ID, time.Hour)
	require.NoError(t, err)

	return &testEnv{
		store:  store,
		media:  fm,
		router: router,
		cookie: &http.Cookie{Name: engine.SessionCookie, Value: token},
	}
}

func (e *testEnv) do(req *http.Request, signedIn bool) *httptest.ResponseRecorder {
	if signedIn {
		req.AddCookie(e.cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil), true)
}

func (e *testEnv) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req, true)
}

func (e *testEnv) venue(t *testing.T, name string) map[string]any {
	t.Helper()
	row, err := e.store.Create(context.Background(), "venues", map[string]any{"name": name, "city": "Bangkok"})
	require.NoError(t, err)
	return row
}

func (e *testEnv) event(t *testing.T, venue map[string]any) map[string]any {
	t.Helper()
	row, err := e.store.Create(context.Background(), "events", map[string]any{
		"title":       "Rajadamnern Friday Night",
		"venue_id":    engine.String(venue, "reference_id"),
		"starts_at":   "2026-11-07T19:30:00Z",
		"price_cents": int64(150000),
		"seats_total": int64(10),
		"published":   true,
	})
	require.NoError(t, err)
	return row
}

func (e *testEnv) booking(t *testing.T, event map[string]any) map[string]any {
	t.Helper()
	row, err := e.store.Create(context.Background(), "bookings", map[string]any{
		"item_type":      "event",
		"item_id":        engine.String(event, "reference_id"),
		"item_title":     engine.String(event, "title"),
		"quantity":       int64(1),
		"customer_name":  "Somchai",
		"customer_email": "somchai@example.com",
		"amount_cents":   int64(150000),
		"provider":       "chillpay",
	})
	require.NoError(t, err)
	return row
}

func flashOf(w *httptest.ResponseRecorder) string {
	for _, c := range w.Result().Cookies() {
		if c.Name == flashCookie {
			msg, _ := url.QueryUnescape(c.Value)
			return msg
		}
	}
	return ""
}

func TestProtectedRedirectsToLogin(t *testing.T) {
	env := setup(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/admin/venues?q=bang", nil), false)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin/login?next="+url.QueryEscape("/admin/venues?q=bang"), w.Header().Get("Location"))

	w = env.do(httptest.NewRequest(http.MethodGet, "/admin/login", nil), false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="password"`)
}

func TestLogin(t *testing.T) {
	env := setup(t)

	login := func(password, next string) *httptest.ResponseRecorder {
		form := url.Values{"email": {"Kru@Example.com"}, "password": {password}, "next": {next}}
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return env.do(req, false)
	}

	w := login("wrong-password", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid email or password")
	assert.Contains(t, w.Body.String(), `value="Kru@Example.com"`)

	w = login(testPassword, "/admin/events")
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin/events", w.Header().Get("Location"))

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == engine.SessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, session.SameSite)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(session)
	w = env.do(req, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kru@example.com")

	w = login(testPassword, "https://evil.example.com/")
	assert.Equal(t, "/admin", w.Header().Get("Location"))
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		next string
		want string
	}{
		{"", "/admin"},
		{"/admin/events?page=2", "/admin/events?page=2"},
		{"//evil.example.com", "/admin"},
		{"https://evil.example.com/admin", "/admin"},
		{"/events", "/admin"},
	}
	for _, tt := range tests {
		t.Run(tt.next, func(t *testing.T) {
			assert.Equal(t, tt.want, safeNext(tt.next))
		})
	}
}

func TestLogout(t *testing.T) {
	env := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/logout", nil)
	w := env.do(req, true)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin/login", w.Header().Get("Location"))

	w = env.get("/admin")
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestDashboard(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	evt := env.event(t, env.venue(t, "Rajadamnern Stadium"))
	paid := env.booking(t, evt)
	env.booking(t, evt)
	_, err := env.store.RawExec(ctx, "UPDATE bookings SET status = ? WHERE reference_id = ?", "COMPLETED", engine.String(paid, "reference_id"))
	require.NoError(t, err)

	w := env.get("/admin")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "THB 1,500.00")
	assert.Contains(t, body, engine.String(paid, "reference_id"))
	assert.Contains(t, body, "Somchai")
	assert.Contains(t, body, `href="/admin/venues"`)
}

func TestList(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	for i := range 30 {
		_, err := env.store.Create(ctx, "fighters", map[string]any{"name": fmt.Sprintf("Fighter %02d", i)})
		require.NoError(t, err)
	}
	_, err := env.store.Create(ctx, "fighters", map[string]any{"name": "Buakaw", "gym": "Banchamek"})
	require.NoError(t, err)

	w := env.get("/admin/fighters")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Page 1 of 2")
	assert.Contains(t, w.Body.String(), `/admin/fighters/new`)
	assert.Contains(t, w.Body.String(), "/toggle/featured")

	w = env.get("/admin/fighters?page=2")
	assert.Contains(t, w.Body.String(), "Page 2 of 2")

	w = env.get("/admin/fighters?q=banchamek")
	body := w.Body.String()
	assert.Contains(t, body, "Buakaw")
	assert.NotContains(t, body, "Fighter 01")

	w = env.get("/admin/fighters?sort=-name&page=1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Fighter 29")

	// Unknown sort columns fall back to the default order.
	w = env.get("/admin/fighters?sort=password")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.get("/admin/nothing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestList_BookingsShowTransitions(t *testing.T) {
	env := setup(t)
	env.booking(t, env.event(t, env.venue(t, "Lumpinee")))

	w := env.get("/admin/bookings")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, "/admin/bookings/new")
	assert.Contains(t, body, "/transition/PROCESSING")
	assert.Contains(t, body, "/transition/FAILED")
	assert.Contains(t, body, "somchai@example.com")
}

func TestCreate(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	w := env.get("/admin/venues/new")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="city"`)
	assert.Contains(t, w.Body.String(), `enctype="multipart/form-data"`)

	w = env.post("/admin/venues", url.Values{
		"name":     {"Rajadamnern Stadium"},
		"slug":     {""},
		"city":     {"Bangkok"},
		"province": {""},
		"capacity": {"8,000"},
		"active":   {"on"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin/venues", w.Header().Get("Location"))
	assert.Equal(t, "Venue created.", flashOf(w))

	row, err := env.store.GetByField(ctx, "venues", "slug", "rajadamnern-stadium")
	require.NoError(t, err)
	assert.Equal(t, int64(8000), engine.Int64(row, "capacity"))
	assert.True(t, engine.Bool(row, "active"))
	assert.Nil(t, row["province"])
}

func TestCreate_TypedFields(t *testing.T) {
	env := setup(t)
	ven := env.venue(t, "Lumpinee Stadium")

	w := env.post("/admin/events", url.Values{
		"title":       {"Lumpinee Saturday"},
		"venue_id":    {engine.String(ven, "reference_id")},
		"starts_at":   {"2026-11-07T19:30"},
		"price_cents": {"1,250.50"},
		"currency":    {"THB"},
		"seats_total": {"200"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code)

	row, err := env.store.GetByField(context.Background(), "events", "slug", "lumpinee-saturday")
	require.NoError(t, err)
	assert.Equal(t, int64(125050), engine.Int64(row, "price_cents"))
	assert.Equal(t, engine.Int64(ven, "id"), engine.Int64(row, "venue_id"))
	assert.Equal(t, time.Date(2026, 11, 7, 19, 30, 0, 0, time.UTC), engine.Time(row, "starts_at"))
	assert.False(t, engine.Bool(row, "published"))
}

func TestCreate_ValidationRedisplaysForm(t *testing.T) {
	env := setup(t)

	tests := []struct {
		name   string
		form   url.Values
		errMsg string
	}{
		{
			name:   "missing city",
			form:   url.Values{"name": {"Omnoi Stadium"}, "city": {""}},
			errMsg: "city is required",
		},
		{
			name:   "bad number",
			form:   url.Values{"name": {"Omnoi Stadium"}, "city": {"Samut Sakhon"}, "capacity": {"lots"}},
			errMsg: "must be a whole number",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.post("/admin/venues", tt.form)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			assert.Contains(t, w.Body.String(), tt.errMsg)
			assert.Contains(t, w.Body.String(), `value="Omnoi Stadium"`)
		})
	}

	n, err := env.store.Count(context.Background(), "venues")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEditAndUpdate(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	ven, err := env.store.Create(ctx, "venues", map[string]any{
		"name": "Rangsit Stadium", "city": "Pathum Thani", "province": "Pathum Thani", "capacity": int64(3000),
	})
	require.NoError(t, err)
	ref := engine.String(ven, "reference_id")

	w := env.get("/admin/venues/" + ref + "/edit")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `value="Rangsit Stadium"`)
	assert.Contains(t, w.Body.String(), `action="/admin/venues/`+ref+`"`)

	w = env.post("/admin/venues/"+ref, url.Values{
		"name":     {"Rangsit International Stadium"},
		"city":     {"Pathum Thani"},
		"province": {""},
		"capacity": {"3500"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code)

	row, err := env.store.Get(ctx, "venues", ref)
	require.NoError(t, err)
	assert.Equal(t, "Rangsit International Stadium", engine.String(row, "name"))
	assert.Nil(t, row["province"])
	assert.Equal(t, int64(3500), engine.Int64(row, "capacity"))
	assert.False(t, engine.Bool(row, "active"), "unchecked checkbox clears the flag")
	assert.Equal(t, "rangsit-stadium", engine.String(row, "slug"), "slug is kept when not submitted")

	w = env.get("/admin/venues/ven_missing/edit")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpload(t *testing.T) {
	env := setup(t)
	ven := env.venue(t, "Channel 7 Stadium")
	ref := engine.String(ven, "reference_id")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "Channel 7 Stadium"))
	require.NoError(t, mw.WriteField("city", "Bangkok"))
	require.NoError(t, mw.WriteField("image_url", ""))
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="image_url_file"; filename="ring.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin/venues/"+ref, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := env.do(req, true)
	require.Equal(t, http.StatusSeeOther, w.Code)

	assert.Equal(t, []string{"ring.png"}, env.media.names)
	assert.Equal(t, []byte("\x89PNG fake"), env.media.body)
	row, err := env.store.Get(context.Background(), "venues", ref)
	require.NoError(t, err)
	assert.Equal(t, "/media/2026/10/ring.png", engine.String(row, "image_url"))

	// Clearing removes the image.
	w = env.post("/admin/venues/"+ref, url.Values{
		"name": {"Channel 7 Stadium"}, "city": {"Bangkok"},
		"image_url": {"/media/2026/10/ring.png"}, "image_url_clear": {"on"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code)
	row, err = env.store.Get(context.Background(), "venues", ref)
	require.NoError(t, err)
	assert.Nil(t, row["image_url"])
}

func TestToggle(t *testing.T) {
	env := setup(t)
	ref := engine.String(env.venue(t, "Lumpinee Stadium"), "reference_id")

	w := env.post("/admin/venues/"+ref+"/toggle/active", nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	row, err := env.store.Get(context.Background(), "venues", ref)
	require.NoError(t, err)
	assert.False(t, engine.Bool(row, "active"))

	w = env.post("/admin/venues/"+ref+"/toggle/city", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDelete(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	ven := env.venue(t, "Rajadamnern Stadium")
	env.event(t, ven)
	ref := engine.String(ven, "reference_id")

	w := env.post("/admin/venues/"+ref+"/delete", nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "Cannot delete: still used by 1 events", flashOf(w))
	_, err := env.store.Get(ctx, "venues", ref)
	require.NoError(t, err)

	free := engine.String(env.venue(t, "Old Hall"), "reference_id")
	w = env.post("/admin/venues/"+free+"/delete", nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "Venue deleted.", flashOf(w))
	_, err = env.store.Get(ctx, "venues", free)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestTransition(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	bk := env.booking(t, env.event(t, env.venue(t, "Lumpinee Stadium")))
	ref := engine.String(bk, "reference_id")

	// PENDING cannot jump straight to COMPLETED.
	w := env.post("/admin/bookings/"+ref+"/transition/COMPLETED", nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Contains(t, flashOf(w), "PENDING")
	row, err := env.store.Get(ctx, "bookings", ref)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", engine.String(row, "status"))

	w = env.post("/admin/bookings/"+ref+"/transition/FAILED", url.Values{"back": {"/admin/bookings/" + ref + "/edit"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin/bookings/"+ref+"/edit", w.Header().Get("Location"))
	assert.Equal(t, "Booking is now FAILED.", flashOf(w))
	row, err = env.store.Get(ctx, "bookings", ref)
	require.NoError(t, err)
	assert.Equal(t, "FAILED", engine.String(row, "status"))

	w = env.post("/admin/venues/x/transition/FAILED", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFlashShownOnce(t *testing.T) {
	env := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: flashCookie, Value: url.QueryEscape("Venue created.")})
	w := env.do(req, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Venue created.")

	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == flashCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}
