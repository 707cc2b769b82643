package capture

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/glcs-go/recorder/internal/glcapture"
	"github.com/glcs-go/recorder/internal/logger"
	"github.com/glcs-go/recorder/internal/wire"
)

// X11Surface adapts an X11 root window (optionally redirected via the
// Composite extension) into a glcapture.Surface. One instance covers one
// output; the pipeline treats it as a single video stream.
type X11Surface struct {
	conn             *xgb.Conn
	root             xproto.Window
	screen           *xproto.ScreenInfo
	compositeEnabled bool

	mu      sync.Mutex
	gammaR  float32
	gammaG  float32
	gammaB  float32
}

// NewX11Surface connects to the X server and prepares root-window capture.
// Composite is used opportunistically to read from a redirected root
// pixmap; without it the root window is read directly, and capture does
// not fail.
func NewX11Surface() (*X11Surface, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	s := &X11Surface{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		gammaR: 1, gammaG: 1, gammaB: 1,
	}

	log := logger.WithComponent("x11-surface")
	if err := composite.Init(conn); err != nil {
		log.Warn().Err(err).Msg("composite extension unavailable")
	} else {
		s.compositeEnabled = true
	}
	if err := randr.Init(conn); err != nil {
		log.Warn().Err(err).Msg("randr extension unavailable, gamma changes will not be detected")
	}

	return s, nil
}

// Close releases the X11 connection.
func (s *X11Surface) Close() {
	s.conn.Close()
}

// Geometry implements glcapture.Surface.
func (s *X11Surface) Geometry() (uint32, uint32, error) {
	geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(s.root)).Reply()
	if err != nil {
		return 0, 0, fmt.Errorf("get root geometry: %w", err)
	}
	return uint32(geom.Width), uint32(geom.Height), nil
}

// Gamma implements glcapture.Surface. RandR crtc gamma ramps are not
// walked here (that requires a resolved output/crtc pair); the surface
// reports the last gamma it was told about via SetGamma, defaulting to
// the identity ramp.
func (s *X11Surface) Gamma() (float32, float32, float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gammaR, s.gammaG, s.gammaB, nil
}

// SetGamma records a gamma reading obtained externally (e.g. by a
// display-manager integration walking RandR crtcs), so Frame can detect
// changes and emit a Color message.
func (s *X11Surface) SetGamma(r, g, b float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gammaR, s.gammaG, s.gammaB = r, g, b
}

// ReadPixels implements glcapture.Surface: it reads the given rectangle of
// the root window (or its Composite-redirected pixmap, when available) as
// a ZPixmap and converts it to the requested packed format.
func (s *X11Surface) ReadPixels(rect glcapture.Rect, format wire.PixelFormat, packAlignment int, dst []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drawable := xproto.Drawable(s.root)
	if s.compositeEnabled {
		if p, err := s.redirectRoot(); err == nil {
			drawable = xproto.Drawable(p)
			defer xproto.FreePixmap(s.conn, p)
		}
	}

	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		drawable,
		int16(rect.X), int16(rect.Y),
		uint16(rect.W), uint16(rect.H),
		0xffffffff,
	).Reply()
	if err != nil {
		return fmt.Errorf("get image: %w", err)
	}

	return convertZPixmap(reply.Data, int(rect.W), int(rect.H), int(s.screen.RootDepth), format, packAlignment, dst)
}

func (s *X11Surface) redirectRoot() (xproto.Pixmap, error) {
	if err := composite.RedirectWindowChecked(s.conn, s.root, composite.RedirectAutomatic).Check(); err != nil {
		return 0, err
	}
	pixmap, err := xproto.NewPixmapId(s.conn)
	if err != nil {
		return 0, err
	}
	if err := composite.NameWindowPixmapChecked(s.conn, s.root, pixmap).Check(); err != nil {
		return 0, err
	}
	return pixmap, nil
}

// convertZPixmap repacks X11's native 32-bit-per-pixel ZPixmap layout
// (byte order BGRx on little-endian displays, which is what every X server
// this backend targets uses) into the destination format, honoring the
// requested row alignment the way the original capture core's
// GL_PACK_ALIGNMENT handling does.
func convertZPixmap(data []byte, w, h, depth int, format wire.PixelFormat, packAlignment int, dst []byte) error {
	if depth != 24 && depth != 32 {
		return fmt.Errorf("unsupported X11 depth %d", depth)
	}

	srcBpp := 4
	dstBpp := 3
	if format == wire.PixBGRA {
		dstBpp = 4
	}
	rowBytes := w * dstBpp
	if packAlignment > 1 && rowBytes%packAlignment != 0 {
		rowBytes += packAlignment - rowBytes%packAlignment
	}

	for y := 0; y < h; y++ {
		srcRow := y * w * srcBpp
		dstRow := y * rowBytes
		for x := 0; x < w; x++ {
			si := srcRow + x*srcBpp
			di := dstRow + x*dstBpp
			if si+3 >= len(data) || di+dstBpp-1 >= len(dst) {
				continue
			}
			dst[di+0] = data[si+0]
			dst[di+1] = data[si+1]
			dst[di+2] = data[si+2]
			if dstBpp == 4 {
				dst[di+3] = 0xff
			}
		}
	}
	return nil
}
