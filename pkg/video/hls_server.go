package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"nvr/pkg/log"
	gopath "path"
	"strings"
	"sync"
	"time"
)

type hlsServer struct {
	readBufferCount int
	logger          *log.Logger

	ctx       context.Context
	ctxCancel func()
	wg        *sync.WaitGroup
	muxers    map[string]*hlsMuxer

	// in
	chPathSourceReady    chan *path
	chPathSourceNotReady chan *path
	chRequest            chan *hlsMuxerRequest
	chMuxerByPathName    chan muxerByPathNameRequest
	chMuxerClose         chan *hlsMuxer
}

func newHLSServer(
	wg *sync.WaitGroup,
	readBufferCount int,
	logger *log.Logger,
) *hlsServer {
	return &hlsServer{
		readBufferCount:      readBufferCount,
		logger:               logger,
		wg:                   wg,
		muxers:               make(map[string]*hlsMuxer),
		chPathSourceReady:    make(chan *path),
		chPathSourceNotReady: make(chan *path),
		chRequest:            make(chan *hlsMuxerRequest),
		chMuxerByPathName:    make(chan muxerByPathNameRequest),
		chMuxerClose:         make(chan *hlsMuxer),
	}
}

func (s *hlsServer) start(ctx context.Context, address string) error {
	s.ctx, s.ctxCancel = context.WithCancel(ctx)

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.logger.Log(log.Entry{
		Level: log.LevelInfo,
		Src:   "app",
		Msg:   fmt.Sprintf("HLS: listener opened on %v", address),
	})

	s.wg.Add(2)
	s.startServer(ln)
	go s.run()

	return nil
}

func (s *hlsServer) startServer(ln net.Listener) {
	mux := http.NewServeMux()
	mux.Handle("/hls/", s.HandleRequest())
	server := http.Server{Handler: mux}

	go func() {
		for {
			err := server.Serve(ln)
			if !errors.Is(err, http.ErrServerClosed) {
				s.logger.Log(log.Entry{
					Level: log.LevelError,
					Src:   "app",
					Msg:   fmt.Sprintf("hls: server stopped: %v\nrestarting..", err),
				})
				time.Sleep(3 * time.Second)
			}
			if s.ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		<-s.ctx.Done()
		server.Close()
		s.wg.Done()
	}()
}

func (s *hlsServer) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return

		case pa := <-s.chPathSourceReady:
			if _, exist := s.muxers[pa.Name()]; exist {
				continue
			}
			s.muxers[pa.Name()] = newHLSMuxer(
				s.ctx,
				pa,
				s.readBufferCount,
				s.wg,
				s,
				s.logger,
			)

		case pa := <-s.chPathSourceNotReady:
			if m, exist := s.muxers[pa.Name()]; exist {
				delete(s.muxers, pa.Name())
				m.close()
			}

		case req := <-s.chRequest:
			m, exist := s.muxers[req.path]
			if exist {
				m.onRequest(*req)
				continue
			}
			req.res <- hlsMuxerResponse{status: http.StatusNotFound}

		case req := <-s.chMuxerByPathName:
			m, exist := s.muxers[req.pathName]
			if exist {
				req.res <- m
				continue
			}
			req.res <- nil

		case m := <-s.chMuxerClose:
			if cur, exist := s.muxers[m.path.Name()]; exist && cur == m {
				delete(s.muxers, m.path.Name())
			}
		}
	}
}

func (s *hlsServer) HandleRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		switch r.Method {
		case http.MethodGet:

		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
			w.WriteHeader(http.StatusOK)
			return

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// Remove leading prefix "/hls/"
		if len(r.URL.Path) <= 5 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		pa := r.URL.Path[5:]

		dir, fname := func() (string, string) {
			if strings.HasSuffix(pa, ".m3u8") || strings.HasSuffix(pa, ".mp4") {
				return gopath.Dir(pa), gopath.Base(pa)
			}
			return pa, ""
		}()

		if fname == "" && !strings.HasSuffix(dir, "/") {
			w.Header().Set("Location", "/hls/"+dir+"/")
			w.WriteHeader(http.StatusMovedPermanently)
			return
		}

		dir = strings.TrimSuffix(dir, "/")
		if fname == "" {
			fname = "index.m3u8"
		}

		q := r.URL.Query()

		cres := make(chan hlsMuxerResponse)
		hreq := &hlsMuxerRequest{
			path: dir,
			file: fname,
			msn:  q.Get("_HLS_msn"),
			part: q.Get("_HLS_part"),
			skip: q.Get("_HLS_skip"),
			req:  r,
			res:  cres,
		}

		select {
		case <-s.ctx.Done():
		case s.chRequest <- hreq:
			res := <-cres

			for k, v := range res.header {
				w.Header().Set(k, v)
			}
			w.WriteHeader(res.status)

			if res.body != nil {
				io.Copy(w, res.body) //nolint:errcheck
			}
		}
	}
}

// pathSourceReady is called by pathManager.
func (s *hlsServer) pathSourceReady(pa *path) {
	select {
	case s.chPathSourceReady <- pa:
	case <-s.ctx.Done():
	}
}

// pathSourceNotReady is called by pathManager.
func (s *hlsServer) pathSourceNotReady(pa *path) {
	select {
	case s.chPathSourceNotReady <- pa:
	case <-s.ctx.Done():
	}
}

// onMuxerClose is called by hlsMuxer.
func (s *hlsServer) onMuxerClose(m *hlsMuxer) {
	select {
	case s.chMuxerClose <- m:
	case <-s.ctx.Done():
	}
}

type muxerByPathNameRequest struct {
	pathName string
	res      chan *hlsMuxer
}

// ErrMuxerNotFound is returned when no HLS muxer is currently serving a path.
var ErrMuxerNotFound = errors.New("hls muxer not found")

// MuxerByPathName returns the HLS muxer currently serving a path, if any.
func (s *hlsServer) MuxerByPathName(ctx context.Context, pathName string) (IHLSMuxer, error) {
	res := make(chan *hlsMuxer)
	req := muxerByPathNameRequest{
		pathName: pathName,
		res:      res,
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, context.Canceled
	case s.chMuxerByPathName <- req:
		m := <-res
		if m == nil {
			return nil, ErrMuxerNotFound
		}
		return m, nil
	}
}
