// Package render talks to the render server: it renders batches of camera
// parameters into images, reports the world bounding box and receives node
// records for on-screen visualisation.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/brensch/panotree/space"
)

// DefaultFieldOfView is the vertical field of view, in degrees, of every
// camera the explorer requests.
const DefaultFieldOfView = 60

// Vector3 is the wire form of a 3D vector.
type Vector3 struct {
	X float64 `json:"x" parquet:"x"`
	Y float64 `json:"y" parquet:"y"`
	Z float64 `json:"z" parquet:"z"`
}

func VecFrom(v r3.Vec) Vector3 {
	return Vector3{X: v.X, Y: v.Y, Z: v.Z}
}

func (v Vector3) Vec() r3.Vec {
	return r3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}

// CameraParameter places one camera. An aspect of 0 lets the server use
// square tiles.
type CameraParameter struct {
	Position    Vector3 `json:"position" parquet:"position"`
	Direction   Vector3 `json:"direction" parquet:"direction"`
	FieldOfView float64 `json:"fieldOfView" parquet:"field_of_view"`
	Aspect      float64 `json:"aspect" parquet:"aspect"`
}

func NewCameraParameter(position, direction r3.Vec) CameraParameter {
	return CameraParameter{
		Position:    VecFrom(position),
		Direction:   VecFrom(direction),
		FieldOfView: DefaultFieldOfView,
	}
}

// PhotoScoring pairs a camera with the score its image received.
type PhotoScoring struct {
	CameraParameter CameraParameter `json:"cameraParameter" parquet:"camera"`
	Score           float64         `json:"score" parquet:"score"`
}

// Pair zips cameras and scores of equal length.
func Pair(cams []CameraParameter, scores []float64) ([]PhotoScoring, error) {
	if len(cams) != len(scores) {
		return nil, fmt.Errorf("render: %d cameras but %d scores", len(cams), len(scores))
	}
	out := make([]PhotoScoring, len(cams))
	for i := range cams {
		out[i] = PhotoScoring{CameraParameter: cams[i], Score: scores[i]}
	}
	return out, nil
}

// LeafGridNode is one refined grid point attached to a node record.
type LeafGridNode struct {
	GridID        string         `json:"gridId"`
	NodeID        string         `json:"nodeId"`
	Position      Vector3        `json:"position"`
	PhotoScorings []PhotoScoring `json:"photoScorings"`
}

// NodeRecord describes one backpropagated node. ParentID is empty for the
// root.
type NodeRecord struct {
	ID            string         `json:"id"`
	BranchID      uint64         `json:"branchId"`
	ParentID      string         `json:"parentId,omitempty"`
	Depth         int            `json:"depth"`
	Min           Vector3        `json:"min"`
	Max           Vector3        `json:"max"`
	Value         float64        `json:"score"`
	B             float64        `json:"b"`
	PhotoScorings []PhotoScoring `json:"photoScorings"`
	LeafGridNodes []LeafGridNode `json:"leafGridNodes,omitempty"`
}

func (r NodeRecord) Bounds() space.Bounds {
	return space.Bounds{Min: r.Min.Vec(), Max: r.Max.Vec()}
}

// ServerInfo is returned by the info endpoint.
type ServerInfo struct {
	Version     string      `json:"version"`
	VersionInfo VersionInfo `json:"versionInfo"`
	Platform    string      `json:"platform"`
}

type VersionInfo struct {
	Major    int `json:"majorVersion"`
	Minor    int `json:"minorVersion"`
	Build    int `json:"buildNumber"`
	Revision int `json:"revisionNumber"`
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

type renderRequest struct {
	CameraParameters []CameraParameter `json:"cameraParameters"`
}

type updateNodesRequest struct {
	Nodes []NodeRecord `json:"nodes"`
}

type updateConfigRequest struct {
	RendererConfig struct {
		TextureSize int `json:"textureSize"`
	} `json:"rendererConfig"`
}

// looseFloat accepts both JSON numbers and numeric strings. Some server
// builds send the bounding box as strings.
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("render: parse coordinate %q: %w", s, err)
	}
	*f = looseFloat(v)
	return nil
}

type looseVector3 struct {
	X looseFloat `json:"x"`
	Y looseFloat `json:"y"`
	Z looseFloat `json:"z"`
}

func (v looseVector3) vec() r3.Vec {
	return r3.Vec{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

type boundingBoxResponse struct {
	BBox struct {
		Min looseVector3 `json:"min"`
		Max looseVector3 `json:"max"`
	} `json:"bbox"`
}
