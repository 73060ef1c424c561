package ipfs_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shapeshift/rfox/pkg/ipfs"
	"github.com/shapeshift/rfox/pkg/rfoxtesting"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Epoch  uint64 `json:"epoch"`
	Amount string `json:"amount"`
}

func TestRFox_IPFS_PutGet(t *testing.T) {
	t.Parallel()

	store := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/add":
			require.Equal(t, "true", r.URL.Query().Get("pin"))
			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			data, err := io.ReadAll(file)
			require.NoError(t, err)
			cid := "QmTest1"
			store[cid] = data
			require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"Hash": cid}))
		case "/api/v0/cat":
			data, ok := store[r.URL.Query().Get("arg")]
			if !ok {
				http.Error(w, "not found", http.StatusInternalServerError)
				return
			}
			_, _ = w.Write(data)
		default:
			http.Error(w, "unexpected path", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := ipfs.New(ipfs.Config{Logger: rfoxtesting.NewLogger(), APIURL: srv.URL})
	require.NoError(t, err)

	in := payload{Epoch: 3, Amount: "123456789"}
	cid, err := client.Put(t.Context(), in)
	require.NoError(t, err)
	require.Equal(t, "QmTest1", cid)

	var out payload
	require.NoError(t, client.Get(t.Context(), cid, &out))
	require.Equal(t, in, out)
}

func TestRFox_IPFS_GetUnknownCID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "merkledag: not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := ipfs.New(ipfs.Config{Logger: rfoxtesting.NewLogger(), APIURL: srv.URL})
	require.NoError(t, err)

	var out payload
	err = client.Get(t.Context(), "QmMissing", &out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestRFox_IPFS_ConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := ipfs.New(ipfs.Config{APIURL: "http://localhost:5001"})
	require.Error(t, err)

	_, err = ipfs.New(ipfs.Config{Logger: rfoxtesting.NewLogger()})
	require.Error(t, err)
}
