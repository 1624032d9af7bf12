package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cameron64/HoneyDo-sub002/internal/model"
)

func TestAddItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/lists/list-1/items", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get(MutationIDHeader))

		var in model.ItemInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Milk", in.Name)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.Item{ID: "42", ListID: "list-1", Name: in.Name, SortOrder: 3})
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL + "/", Token: "secret"})
	it, err := c.AddItem(context.Background(), "list-1", model.ItemInput{Name: "Milk"})
	require.NoError(t, err)
	assert.Equal(t, "42", it.ID)
	assert.Equal(t, 3, it.SortOrder)
}

func TestMutationIDFromContext(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(MutationIDHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	ctx := WithMutationID(context.Background(), "queued-1")
	require.NoError(t, c.RemoveItem(ctx, "9"))
	assert.Equal(t, "queued-1", got)
}

func TestCheckItemsAndReorder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ItemIDs []string `json:"itemIds"`
			Checked bool     `json:"checked"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		switch r.URL.Path {
		case "/api/items/check":
			assert.True(t, body.Checked)
			items := make([]model.Item, len(body.ItemIDs))
			for i, id := range body.ItemIDs {
				items[i] = model.Item{ID: id, Checked: true}
			}
			json.NewEncoder(w).Encode(items)
		case "/api/lists/list-1/order":
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, []string{"c", "a", "b"}, body.ItemIDs)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	items, err := c.CheckItems(context.Background(), []string{"a", "b"}, true)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[1].Checked)

	require.NoError(t, c.ReorderItems(context.Background(), "list-1", []string{"c", "a", "b"}))
}

func TestErrorClassification(t *testing.T) {
	for _, tc := range []struct {
		status     int
		notFound   bool
		validation bool
		retryable  bool
	}{
		{http.StatusNotFound, true, false, false},
		{http.StatusUnprocessableEntity, false, true, false},
		{http.StatusInternalServerError, false, false, false},
		{http.StatusServiceUnavailable, false, false, true},
	} {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
			}))
			defer server.Close()

			_, err := NewClient(Config{BaseURL: server.URL}).CheckItem(context.Background(), "x", true)
			require.Error(t, err)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, "nope", apiErr.Message)
			assert.Equal(t, tc.notFound, errors.Is(err, ErrNotFound))
			assert.Equal(t, tc.validation, errors.Is(err, ErrValidation))
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}

func TestUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(Config{BaseURL: url}).GetList(context.Background(), "list-1")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestGetListAndClearChecked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/lists/list-1":
			assert.Empty(t, r.Header.Get(MutationIDHeader), "reads carry no mutation id")
			json.NewEncoder(w).Encode(model.List{ID: "list-1", Name: "Grocery", Items: []model.Item{{ID: "a"}}})
		case "/api/lists/list-1/clear-checked":
			json.NewEncoder(w).Encode(map[string][]string{"itemIds": {"a"}})
		}
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	l, err := c.GetList(context.Background(), "list-1")
	require.NoError(t, err)
	assert.Equal(t, "Grocery", l.Name)

	ids, err := c.ClearChecked(context.Background(), "list-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}
