package resources

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
)

// HuggingFaceBase is the resolve endpoint used for bare model ids such as
// `EleutherAI/pythia-14m`. Tests point it at an httptest server.
var HuggingFaceBase = "https://huggingface.co"

// FetchHTTP
// Fetch a resource from a remote HTTP server with bearer token auth.
func FetchHTTP(uri string, rsrc string, auth string) (io.ReadCloser, error) {
	req, reqErr := http.NewRequest("GET", uri+"/"+rsrc, nil)
	if reqErr != nil {
		return nil, reqErr
	}
	if auth != "" {
		req.Header.Add("Authorization", "Bearer "+auth)
	}
	resp, remoteErr := http.DefaultClient.Do(req)
	if remoteErr != nil {
		return nil, remoteErr
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP status code %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// SizeHTTP
// Get the size of a resource from a remote HTTP server with bearer token
// auth. A size of 0 means the server did not report one.
func SizeHTTP(uri string, rsrc string, auth string) (uint, error) {
	req, reqErr := http.NewRequest("HEAD", uri+"/"+rsrc, nil)
	if reqErr != nil {
		return 0, reqErr
	}
	if auth != "" {
		req.Header.Add("Authorization", "Bearer "+auth)
	}
	resp, remoteErr := http.DefaultClient.Do(req)
	if remoteErr != nil {
		return 0, remoteErr
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP status code %d", resp.StatusCode)
	}
	size, _ := strconv.Atoi(resp.Header.Get("Content-Length"))
	if size < 0 {
		size = 0
	}
	return uint(size), nil
}

// HuggingFaceURI returns the base URI that resources of a HuggingFace model
// id are resolved against.
func HuggingFaceURI(id string) string {
	return strings.TrimRight(HuggingFaceBase, "/") + "/" + id + "/resolve/main"
}

func isValidUrl(toTest string) bool {
	_, err := url.ParseRequestURI(toTest)
	if err != nil {
		return false
	}

	u, err := url.Parse(toTest)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	return true
}

func isLocalDir(uri string) bool {
	stat, err := os.Stat(uri)
	return err == nil && stat.IsDir()
}

// remoteBase maps a URL or a HuggingFace id onto the base URI to fetch from.
func remoteBase(uri string) string {
	if isValidUrl(uri) {
		return strings.TrimRight(uri, "/")
	}
	return HuggingFaceURI(uri)
}

// Fetch
// Given a base URI and a resource name, determines if the resource is local,
// remote, or from huggingface.co, and returns a ReadCloser over it.
func Fetch(uri string, rsrc string, auth string) (io.ReadCloser, error) {
	if isLocalDir(uri) {
		handle, fileErr := os.Open(path.Join(uri, rsrc))
		if fileErr != nil {
			return nil, fmt.Errorf("error opening %s/%s: %w",
				uri, rsrc, fileErr)
		}
		return handle, nil
	}
	return FetchHTTP(remoteBase(uri), rsrc, auth)
}

// Size
// Given a base URI and a resource name, determine the size of the resource.
func Size(uri string, rsrc string, auth string) (uint, error) {
	if isLocalDir(uri) {
		fsz, err := os.Stat(path.Join(uri, rsrc))
		if err != nil {
			return 0, err
		}
		if fsz.IsDir() {
			return 0, errors.New(rsrc + " is a directory")
		}
		return uint(fsz.Size()), nil
	}
	return SizeHTTP(remoteBase(uri), rsrc, auth)
}
