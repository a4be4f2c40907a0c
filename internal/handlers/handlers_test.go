package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/maneesh/gridstore/internal/gridfs"
	"github.com/maneesh/gridstore/internal/storage"
)

type upload struct {
	filename    string
	contentType string
	encoding    string
	data        []byte
}

// HandlersTestSuite drives the HTTP routes against a SQLite-backed store
type HandlersTestSuite struct {
	suite.Suite
	db     *storage.SQLClient
	store  *gridfs.Store
	server *httptest.Server
}

func (s *HandlersTestSuite) SetupTest() {
	var err error
	s.db, err = storage.NewSQLClient(context.Background(), storage.DriverSQLite, filepath.Join(s.T().TempDir(), "handlers.db"))
	s.Require().NoError(err)

	s.store = gridfs.New(s.db, s.db, nil, gridfs.Options{})
	s.server = httptest.NewServer(NewRouter(s.store))
}

func (s *HandlersTestSuite) TearDownTest() {
	s.server.Close()
	s.db.Close()
}

func (s *HandlersTestSuite) do(method, path, contentType string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, s.server.URL+path, body)
	s.Require().NoError(err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *HandlersTestSuite) decode(resp *http.Response, v any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (s *HandlersTestSuite) post(bucket, query string, files ...upload) *http.Response {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	s.Require().NoError(mw.WriteField("note", "ignored"))
	for _, f := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, f.filename))
		if f.contentType != "" {
			header.Set("Content-Type", f.contentType)
		}
		if f.encoding != "" {
			header.Set("Content-Transfer-Encoding", f.encoding)
		}
		part, err := mw.CreatePart(header)
		s.Require().NoError(err)
		_, err = part.Write(f.data)
		s.Require().NoError(err)
	}
	s.Require().NoError(mw.Close())

	return s.do(http.MethodPost, "/buckets/"+bucket+"/files"+query, mw.FormDataContentType(), &body)
}

func (s *HandlersTestSuite) uploadOne(bucket, query string, f upload) string {
	resp := s.post(bucket, query, f)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var out WriteResponse
	s.decode(resp, &out)
	s.Require().Len(out.Files, 1)
	s.Equal("File uploaded!", out.Success)
	return out.Files[0].ID
}

func (s *HandlersTestSuite) TestHealth() {
	resp := s.do(http.MethodGet, "/health", "", nil)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("OK", string(body))
}

func (s *HandlersTestSuite) TestUploadThenDownload() {
	data := bytes.Repeat([]byte("0123456789"), 1000)
	id := s.uploadOne("fs", "?chunk_size=333", upload{filename: "my report.txt", contentType: "text/plain", data: data})

	file, err := s.store.Stat(context.Background(), "fs", id)
	s.Require().NoError(err)
	s.Equal(333, file.ChunkSize)
	s.Equal(int64(len(data)), file.Length)
	s.Equal("text/plain", file.ContentType)
	s.Equal(map[string]string{"filename": "my report.txt", "encoding": "7bit", "mimeType": "text/plain"}, file.Metadata)

	resp := s.do(http.MethodGet, "/buckets/fs/files/"+id, "", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("text/plain", resp.Header.Get("Content-Type"))
	s.Equal(`attachment; filename="my%20report.txt"`, resp.Header.Get("Content-Disposition"))
	s.Equal(int64(len(data)), resp.ContentLength)

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Equal(data, body)
}

func (s *HandlersTestSuite) TestUploadRecordsTransferEncoding() {
	id := s.uploadOne("fs", "", upload{filename: "raw.bin", contentType: "application/octet-stream", encoding: "binary", data: []byte{0, 1, 2}})

	file, err := s.store.Stat(context.Background(), "fs", id)
	s.Require().NoError(err)
	s.Equal("binary", file.Metadata["encoding"])
	s.Equal("raw.bin", file.Metadata["filename"])
}

func (s *HandlersTestSuite) TestDownloadDefaultsContentType() {
	id := s.uploadOne("fs", "", upload{filename: "raw.bin", data: []byte{1, 2, 3}})

	resp := s.do(http.MethodGet, "/buckets/fs/files/"+id, "", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("application/octet-stream", resp.Header.Get("Content-Type"))
}

func (s *HandlersTestSuite) TestUploadMultipleFiles() {
	resp := s.post("photos", "",
		upload{filename: "a.png", contentType: "image/png", data: []byte("aaa")},
		upload{filename: "b.png", contentType: "image/png", data: []byte("bbbb")},
	)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var out WriteResponse
	s.decode(resp, &out)
	s.Equal("2 files uploaded!", out.Success)
	s.Len(out.Files, 2)

	files, err := s.store.List(context.Background(), "photos")
	s.Require().NoError(err)
	s.Len(files, 2)
}

func (s *HandlersTestSuite) TestUploadRejections() {
	for _, tc := range []struct {
		name   string
		resp   func() *http.Response
		status int
	}{
		{"no file part", func() *http.Response { return s.post("fs", "") }, http.StatusBadRequest},
		{"empty filename", func() *http.Response {
			return s.post("fs", "", upload{filename: "", data: []byte("x")})
		}, http.StatusBadRequest},
		{"bad chunk size", func() *http.Response {
			return s.post("fs", "?chunk_size=abc", upload{filename: "a", data: []byte("x")})
		}, http.StatusBadRequest},
		{"bad bucket", func() *http.Response {
			return s.post(".hidden", "", upload{filename: "a", data: []byte("x")})
		}, http.StatusBadRequest},
		{"not multipart", func() *http.Response {
			return s.do(http.MethodPost, "/buckets/fs/files", "text/plain", strings.NewReader("hello"))
		}, http.StatusBadRequest},
	} {
		resp := tc.resp()
		var out Flash
		s.decode(resp, &out)
		s.Equal(tc.status, resp.StatusCode, tc.name)
		s.NotEmpty(out.Error, tc.name)
	}

	// nothing half-written is left behind
	buckets, err := s.db.FileBuckets(context.Background())
	s.Require().NoError(err)
	s.Empty(buckets)
}

func (s *HandlersTestSuite) TestDownloadErrors() {
	resp := s.do(http.MethodGet, "/buckets/fs/files/nope", "", nil)
	var out Flash
	s.decode(resp, &out)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Contains(out.Error, "not found")

	resp = s.do(http.MethodGet, "/buckets/.bad/files/nope", "", nil)
	resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlersTestSuite) TestDownloadWithMissingChunksFailsBeforeHeaders() {
	data := bytes.Repeat([]byte("x"), 100)
	id := s.uploadOne("fs", "?chunk_size=10", upload{filename: "broken.txt", contentType: "text/plain", data: data})
	s.Require().NoError(s.db.DeleteChunks(context.Background(), "fs", id))

	resp := s.do(http.MethodGet, "/buckets/fs/files/"+id, "", nil)
	var out Flash
	s.decode(resp, &out)
	s.Equal(http.StatusInternalServerError, resp.StatusCode)
	s.Equal("application/json", resp.Header.Get("Content-Type"))
	s.Empty(resp.Header.Get("Content-Disposition"))
	s.Contains(out.Error, "missing")
}

func (s *HandlersTestSuite) TestDownloadEmptyFile() {
	id := s.uploadOne("fs", "", upload{filename: "empty.txt", contentType: "text/plain"})

	resp := s.do(http.MethodGet, "/buckets/fs/files/"+id, "", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Empty(body)
}

func (s *HandlersTestSuite) TestRootRedirectsToDefaultBucket() {
	resp := s.do(http.MethodGet, "/", "", nil)
	var view BucketResponse
	s.decode(resp, &view)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("/buckets/"+gridfs.DefaultBucket, resp.Request.URL.Path)
	s.Equal(gridfs.DefaultBucket, view.Bucket)
}

func (s *HandlersTestSuite) TestRename() {
	id := s.uploadOne("fs", "", upload{filename: "old.txt", data: []byte("x")})

	resp := s.do(http.MethodPatch, "/buckets/fs/files/"+id, "application/json", strings.NewReader(`{"filename":"new.txt"}`))
	var out Flash
	s.decode(resp, &out)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(out.Success, "new.txt")

	file, err := s.store.Stat(context.Background(), "fs", id)
	s.Require().NoError(err)
	s.Equal("new.txt", file.Filename)

	for body, status := range map[string]int{
		`{"filename":""}`: http.StatusBadRequest,
		`not json`:        http.StatusBadRequest,
	} {
		resp := s.do(http.MethodPatch, "/buckets/fs/files/"+id, "application/json", strings.NewReader(body))
		resp.Body.Close()
		s.Equal(status, resp.StatusCode, body)
	}

	resp = s.do(http.MethodPatch, "/buckets/fs/files/missing", "application/json", strings.NewReader(`{"filename":"x"}`))
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlersTestSuite) TestDelete() {
	id := s.uploadOne("fs", "?chunk_size=2", upload{filename: "a.txt", data: []byte("abcdef")})

	resp := s.do(http.MethodDelete, "/buckets/fs/files/"+id, "", nil)
	var out Flash
	s.decode(resp, &out)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(fmt.Sprintf("File _id: %q deleted!", id), out.Success)

	chunks, err := s.db.ListChunks(context.Background(), "fs", id)
	s.Require().NoError(err)
	s.Empty(chunks)

	resp = s.do(http.MethodDelete, "/buckets/fs/files/"+id, "", nil)
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)

	resp = s.do(http.MethodGet, "/buckets/fs/files/"+id, "", nil)
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *HandlersTestSuite) TestBucketsAndBucketView() {
	resp := s.do(http.MethodGet, "/buckets", "", nil)
	var empty BucketsResponse
	s.decode(resp, &empty)
	s.NotNil(empty.Buckets)
	s.Empty(empty.Buckets)

	s.uploadOne("fs", "?chunk_size=512", upload{filename: "b.bin", data: make([]byte, 2048)})
	s.uploadOne("fs", "?chunk_size=1024", upload{filename: "a.bin", contentType: "application/pdf", data: make([]byte, 1024)})
	s.uploadOne("other", "", upload{filename: "c.bin", data: []byte("c")})

	resp = s.do(http.MethodGet, "/buckets", "", nil)
	var list BucketsResponse
	s.decode(resp, &list)
	s.Equal([]string{"fs", "other"}, list.Buckets)

	resp = s.do(http.MethodGet, "/buckets/fs", "", nil)
	var view BucketResponse
	s.decode(resp, &view)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("Viewing Bucket: fs", view.Title)
	s.Equal([]string{"fs", "other"}, view.Buckets)
	s.Require().Len(view.Files, 2)
	s.Equal("a.bin", view.Files[0].Filename)
	s.Equal("1.0 KiB", view.Files[0].Length)
	s.Equal("b.bin", view.Files[1].Filename)
	s.Equal(BucketStats{AvgChunk: "768 B", TotalSize: "3.0 KiB"}, view.Stats)
	s.Equal([]string{"filename", "length", "upload_date", "content_type", "metadata"}, view.Columns)
}

func (s *HandlersTestSuite) TestEmptyBucketView() {
	resp := s.do(http.MethodGet, "/buckets/nothing-here", "", nil)
	var view BucketResponse
	s.decode(resp, &view)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Empty(view.Files)
	s.Equal(BucketStats{AvgChunk: "0 B", TotalSize: "0 B"}, view.Stats)
}

func TestHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("wrapped: %w", gridfs.ErrNotFound)))
	assert.Equal(t, http.StatusBadRequest, statusFor(gridfs.ErrInvalidArgument))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(gridfs.ErrCommit))
	assert.Equal(t, http.StatusInternalServerError, statusFor(gridfs.ErrWrite))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename="plain.txt"`, contentDisposition("plain.txt"))
	assert.Equal(t, `attachment; filename="a%22b.txt"`, contentDisposition(`a"b.txt`))
}
