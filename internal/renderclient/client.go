// Package renderclient is a typed client for the render server's HTTP API
// (spec §4.B, §6). It is modeled on the teacher's internal/pmtiles package:
// a small typed object store client with an explicit, serializable on-wire
// shape and a clobber-aware create path, here speaking JSON over HTTP
// instead of the PMTiles binary archive format.
package renderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// ErrAlreadyExists is returned when the server answers with a conflict,
// e.g. by CreateStack when the stack exists and clobber is false (spec
// §4.B, §7 "Server-conflict").
var ErrAlreadyExists = errors.New("renderclient: object already exists")

// ErrNotFound is returned for 404s from the render server.
var ErrNotFound = errors.New("renderclient: object not found")

// Credentials is HTTP basic auth, loaded from internal/auth's credential
// store.
type Credentials struct {
	Username, Password string
}

// Client is a typed RPC client around one render server (host:port), one
// owner, and one project — the three path components every render API
// endpoint is scoped under.
type Client struct {
	baseURL string
	owner   string
	project string
	creds   *Credentials
	http    *http.Client
}

// New creates a Client. baseURL is e.g. "http://render.example.org:8080".
func New(baseURL, owner, project string, creds *Credentials) *Client {
	return &Client{
		baseURL: baseURL,
		owner:   owner,
		project: project,
		creds:   creds,
		http:    &http.Client{},
	}
}

func (c *Client) endpoint(parts ...string) string {
	u := c.baseURL + "/render-ws/v1/owner/" + url.PathEscape(c.owner) + "/project/" + url.PathEscape(c.project)
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

func (c *Client) do(ctx context.Context, method, urlStr string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return fmt.Errorf("renderclient: building %s %s: %w", method, urlStr, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("renderclient: %s %s: %w", method, urlStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode == http.StatusConflict {
		return ErrAlreadyExists
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("renderclient: %s %s: status %d: %s", method, urlStr, resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("renderclient: decoding response from %s %s: %w", method, urlStr, err)
	}
	return nil
}

// ListStacks lists every stack name in the project.
func (c *Client) ListStacks(ctx context.Context) ([]string, error) {
	var names []string
	err := c.do(ctx, http.MethodGet, c.endpoint("stacks"), nil, &names)
	return names, err
}

// StackState is one of LOADING, COMPLETE, OFFLINE (the render server's
// stack lifecycle states).
type StackState string

const (
	StackLoading  StackState = "LOADING"
	StackComplete StackState = "COMPLETE"
	StackOffline  StackState = "OFFLINE"
)

// StackResolution carries the stack's x/y/z resolution in project units,
// supplied at creation (spec §4.G).
type StackResolution struct {
	X, Y, Z float64
}

// CreateStack creates a stack with the given resolution. If clobber is true
// and a stack with this name already exists, it is deleted first (tolerating
// "not found"); if clobber is false, ErrAlreadyExists is returned on
// collision (spec §4.B "Clobber policy").
func (c *Client) CreateStack(ctx context.Context, name string, res StackResolution, clobber bool) error {
	if clobber {
		if err := c.DeleteStack(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	body, _ := json.Marshal(map[string]any{
		"stackResolutionX": res.X,
		"stackResolutionY": res.Y,
		"stackResolutionZ": res.Z,
	})
	err := c.do(ctx, http.MethodPost, c.endpoint("stack", name), bytes.NewReader(body), nil)
	if err != nil && !clobber && errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("%w: stack %q", ErrAlreadyExists, name)
	}
	return err
}

// DeleteStack deletes a stack. A missing stack is reported as ErrNotFound,
// which CreateStack's clobber path tolerates.
func (c *Client) DeleteStack(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint("stack", name), nil, nil)
}

// SetStackState transitions a stack's lifecycle state.
func (c *Client) SetStackState(ctx context.Context, name string, state StackState) error {
	return c.do(ctx, http.MethodPut, c.endpoint("stack", name, "state", string(state)), nil, nil)
}

// GetStackMetadata returns a stack's resolution, used when creating a
// sibling stack that must carry the same resolution (spec §4.H "Upload &
// solve" copies resolutions from the source stack).
func (c *Client) GetStackMetadata(ctx context.Context, stack string) (StackResolution, error) {
	var meta struct {
		StackResolutionX float64 `json:"stackResolutionX"`
		StackResolutionY float64 `json:"stackResolutionY"`
		StackResolutionZ float64 `json:"stackResolutionZ"`
	}
	err := c.do(ctx, http.MethodGet, c.endpoint("stack", stack), nil, &meta)
	return StackResolution{X: meta.StackResolutionX, Y: meta.StackResolutionY, Z: meta.StackResolutionZ}, err
}

// GetZValues returns every z value present in a stack.
func (c *Client) GetZValues(ctx context.Context, stack string) ([]int, error) {
	var zs []int
	err := c.do(ctx, http.MethodGet, c.endpoint("stack", stack, "zValues"), nil, &zs)
	return zs, err
}

// StackBounds is the world bounding box of every tile in a stack.
type StackBounds struct {
	MinX, MinY, MinZ float64
	MaxX, MaxY, MaxZ float64
}

// GetStackBounds returns the stack's overall world bounds.
func (c *Client) GetStackBounds(ctx context.Context, stack string) (StackBounds, error) {
	var b StackBounds
	err := c.do(ctx, http.MethodGet, c.endpoint("stack", stack, "bounds"), nil, &b)
	return b, err
}

// TileBounds is one tile's identity and world bounding box, as returned by
// the tile-bounds-for-z endpoint (used heavily by the stitcher's tilepair
// discovery, spec §4.H).
type TileBounds struct {
	TileID string  `json:"tileId"`
	MinX   float64 `json:"minX"`
	MinY   float64 `json:"minY"`
	MaxX   float64 `json:"maxX"`
	MaxY   float64 `json:"maxY"`
}

// GetTileBoundsForZ lists every tile's bounds at one z value.
func (c *Client) GetTileBoundsForZ(ctx context.Context, stack string, z int) ([]TileBounds, error) {
	var bounds []TileBounds
	path := c.endpoint("stack", stack, "z", strconv.Itoa(z), "tileBounds")
	err := c.do(ctx, http.MethodGet, path, nil, &bounds)
	return bounds, err
}

// TileSpec is the render server's tile metadata record (spec GLOSSARY
// "Tile-spec"). Only the fields this pipeline reads or writes are modeled.
type TileSpec struct {
	TileID        string              `json:"tileId"`
	Z             float64             `json:"z"`
	MinX          float64             `json:"minX,omitempty"`
	MinY          float64             `json:"minY,omitempty"`
	MaxX          float64             `json:"maxX,omitempty"`
	MaxY          float64             `json:"maxY,omitempty"`
	Width         int                 `json:"width"`
	Height        int                 `json:"height"`
	ImageURL      string              `json:"imageUrl"`
	Transforms    []TileSpecTransform `json:"transforms"`
}

// TileSpecTransform is one affine transform entry in render's tile-spec
// transform list format.
type TileSpecTransform struct {
	Type       string `json:"type"`
	DataString string `json:"dataString"`
}

// GetTileSpecs lists every tile-spec in a stack.
func (c *Client) GetTileSpecs(ctx context.Context, stack string) ([]TileSpec, error) {
	var specs []TileSpec
	err := c.do(ctx, http.MethodGet, c.endpoint("stack", stack, "tileSpecs"), nil, &specs)
	return specs, err
}

// ImportTileSpecs imports a batch of tile-specs as a single resolved-tile
// call, with server-side bounding-box derivation disabled: every tile-spec
// already carries explicit minX/minY/maxX/maxY (spec §4.B, §4.G).
func (c *Client) ImportTileSpecs(ctx context.Context, stack string, specs []TileSpec) error {
	body, err := json.Marshal(specs)
	if err != nil {
		return fmt.Errorf("renderclient: marshaling %d tile-specs: %w", len(specs), err)
	}
	path := c.endpoint("stack", stack, "resolvedTiles") + "?deriveData=false"
	return c.do(ctx, http.MethodPut, path, bytes.NewReader(body), nil)
}

// BBImage returns one channel of the render server's bounding-box image
// crop. The pipeline consumes only grayscale, taken from the PNG response's
// green channel (spec §4.B).
func (c *Client) BBImage(ctx context.Context, stack string, z int, x, y, width, height float64, scale float64) (*image.Gray, error) {
	path := c.endpoint("stack", stack, "z", strconv.FormatFloat(float64(z), 'f', -1, 64), "box",
		fmt.Sprintf("%g,%g,%g,%g,%g", x, y, width, height, scale)) + "/png-image"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if c.creds != nil {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("renderclient: fetching bb image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("renderclient: bb image status %d", resp.StatusCode)
	}

	img, err := png.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("renderclient: decoding bb image: %w", err)
	}
	return greenChannel(img), nil
}

// greenChannel extracts the green channel of an RGB(A) image as grayscale.
func greenChannel(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			_ = r
			_ = bl
			_ = a
			c := color.Gray{Y: uint8(g >> 8)}
			gray.SetGray(x, y, c)
		}
	}
	return gray
}

// PointMatch mirrors spec §3 Pointmatch.
type PointMatch struct {
	PGroup   string       `json:"pGroupId"`
	QGroup   string       `json:"qGroupId"`
	PID      string       `json:"pId"`
	QID      string       `json:"qId"`
	PCoords  [][2]float64 `json:"pCoords"`
	QCoords  [][2]float64 `json:"qCoords"`
	Weights  []float64    `json:"weights"`
}

// DeleteMatchCollection deletes a pointmatch collection. Tolerates "not
// found" for the clobber path.
func (c *Client) DeleteMatchCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/render-ws/v1/owner/"+url.PathEscape(c.owner)+"/matchCollection/"+url.PathEscape(name), nil, nil)
}

// ImportMatches imports a batch of pointmatches into a named collection. If
// clobber is true the collection is deleted first (tolerating not-found).
func (c *Client) ImportMatches(ctx context.Context, collection string, matches []PointMatch, clobber bool) error {
	if clobber {
		if err := c.DeleteMatchCollection(ctx, collection); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	body, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("renderclient: marshaling %d matches: %w", len(matches), err)
	}
	path := c.baseURL + "/render-ws/v1/owner/" + url.PathEscape(c.owner) + "/matchCollection/" + url.PathEscape(collection) + "/matches"
	return c.do(ctx, http.MethodPut, path, bytes.NewReader(body), nil)
}
