package video

import (
	"context"
	"errors"
	"fmt"
	"nvr/pkg/log"
	"nvr/pkg/video/gortsplib"
	"nvr/pkg/video/gortsplib/pkg/base"
	"sync"
)

type pathManagerHLSServer interface {
	pathSourceReady(pa *path)
	pathSourceNotReady(pa *path)
	MuxerByPathName(ctx context.Context, name string) (IHLSMuxer, error)
}

type pathManager struct {
	pathConfs map[string]*PathConf
	log       *log.Logger

	ctx       context.Context
	paths     map[string]*path
	wg        *sync.WaitGroup
	hlsServer pathManagerHLSServer

	// in
	chAddPath            chan addPathReq
	chRemovePath         chan string
	chPathExist          chan pathExistReq
	chPathClose          chan *path
	chPathSourceReady    chan *path
	chPathSourceNotReady chan *path
	chDescribe           chan pathDescribeReq
	chReaderAdd          chan pathReaderSetupPlayReq
	chPublisherAdd       chan pathPublisherAnnounceReq
	chPathConf           chan pathConfReq
}

type pathConfReq struct {
	name string
	res  chan *PathConf
}

func newPathManager(wg *sync.WaitGroup, log *log.Logger, hlsServer pathManagerHLSServer) *pathManager {
	pm := &pathManager{
		wg:                   wg,
		log:                  log,
		hlsServer:            hlsServer,
		pathConfs:            make(map[string]*PathConf),
		paths:                make(map[string]*path),
		chAddPath:            make(chan addPathReq),
		chRemovePath:         make(chan string),
		chPathExist:          make(chan pathExistReq),
		chPathClose:          make(chan *path),
		chPathSourceReady:    make(chan *path),
		chPathSourceNotReady: make(chan *path),
		chDescribe:           make(chan pathDescribeReq),
		chReaderAdd:          make(chan pathReaderSetupPlayReq),
		chPublisherAdd:       make(chan pathPublisherAnnounceReq),
		chPathConf:           make(chan pathConfReq),
	}

	return pm
}

func (pm *pathManager) start(ctx context.Context) {
	pm.ctx = ctx

	go pm.run()
}

// ErrPathExist Path exist.
var ErrPathExist = errors.New("path exist")

func (pm *pathManager) run() { //nolint:funlen,gocognit
	for {
		select {
		case req := <-pm.chAddPath:
			newPathConfs := pm.pathConfs
			if _, exist := newPathConfs[req.name]; exist {
				req.ret <- addPathRes{err: ErrPathExist}
				continue
			}

			newPathConfs[req.name] = &req.config

			// add confs
			for pathConfName, pathConf := range newPathConfs {
				if _, ok := pm.pathConfs[pathConfName]; !ok {
					pm.pathConfs[pathConfName] = pathConf
				}
			}

			// add new paths
			for pathConfName, pathConf := range pm.pathConfs {
				if _, ok := pm.paths[pathConfName]; !ok {
					pm.createPath(pathConfName, pathConf, pathConfName)
				}
			}

			hlsMuxer := func(ctx context.Context) (IHLSMuxer, error) {
				return pm.hlsServer.MuxerByPathName(ctx, req.name)
			}

			req.ret <- addPathRes{hlsMuxer: hlsMuxer}

		case name := <-pm.chRemovePath:
			// remove confs
			delete(pm.pathConfs, name)

			// remove paths associated with a conf which doesn't exist anymore
			for _, path := range pm.paths {
				if _, ok := pm.pathConfs[path.ConfName()]; !ok {
					delete(pm.paths, path.Name())
					path.close()
				}
			}

		case req := <-pm.chPathExist:
			_, exist := pm.pathConfs[req.name]
			req.ret <- exist

		case pa := <-pm.chPathClose:
			if pmpa, ok := pm.paths[pa.Name()]; !ok || pmpa != pa {
				continue
			}
			delete(pm.paths, pa.Name())
			pa.close()

		case pa := <-pm.chPathSourceReady:
			if pm.hlsServer != nil {
				pm.hlsServer.pathSourceReady(pa)
			}

		case pa := <-pm.chPathSourceNotReady:
			pm.hlsServer.pathSourceNotReady(pa)

		case req := <-pm.chDescribe:
			pathConfName, pathConf, err := pm.findPathConf(req.pathName)
			if err != nil {
				req.res <- pathDescribeRes{err: err}
				continue
			}

			// create path if it doesn't exist
			if _, ok := pm.paths[req.pathName]; !ok {
				pm.createPath(pathConfName, pathConf, req.pathName)
			}

			req.res <- pathDescribeRes{path: pm.paths[req.pathName]}

		case req := <-pm.chReaderAdd:
			pathConfName, pathConf, err := pm.findPathConf(req.pathName)
			if err != nil {
				req.res <- pathReaderSetupPlayRes{err: err}
				continue
			}

			// create path if it doesn't exist
			if _, ok := pm.paths[req.pathName]; !ok {
				pm.createPath(pathConfName, pathConf, req.pathName)
			}

			req.res <- pathReaderSetupPlayRes{path: pm.paths[req.pathName]}

		case req := <-pm.chPublisherAdd:
			pathConfName, pathConf, err := pm.findPathConf(req.pathName)
			if err != nil {
				req.res <- pathPublisherAnnounceRes{err: err}
				continue
			}
			// create path if it doesn't exist
			if _, ok := pm.paths[req.pathName]; !ok {
				pm.createPath(pathConfName, pathConf, req.pathName)
			}

			req.res <- pathPublisherAnnounceRes{path: pm.paths[req.pathName]}

		case req := <-pm.chPathConf:
			_, conf, _ := pm.findPathConf(req.name)
			req.res <- conf

		case <-pm.ctx.Done():
			return
		}
	}
}

func (pm *pathManager) createPath(
	pathConfName string,
	pathConf *PathConf,
	name string,
) {
	pm.paths[name] = newPath(
		pm.ctx,
		pathConfName,
		pathConf,
		name,
		pm.wg,
		pm,
		pm.log,
	)
}

// Errors.
var (
	ErrPathInvalidName   = errors.New("invalid path name")
	ErrPathNotConfigured = errors.New("path is not configured")
)

func (pm *pathManager) findPathConf(name string) (string, *PathConf, error) {
	err := isValidPathName(name)
	if err != nil {
		return "", nil, fmt.Errorf("%w: (%s) %v", ErrPathInvalidName, name, err)
	}

	if pathConf, exist := pm.pathConfs[name]; exist {
		return name, pathConf, nil
	}

	return "", nil, fmt.Errorf("%w: (%s)", ErrPathNotConfigured, name)
}

type addPathReq struct {
	name   string
	config PathConf
	ret    chan addPathRes
}

type addPathRes struct {
	hlsMuxer HlsMuxerFunc
	err      error
}

// AddPath add path to pathManager.
func (pm *pathManager) AddPath(ctx context.Context, name string, newConf PathConf) (HlsMuxerFunc, error) {
	err := newConf.CheckAndFillMissing(name)
	if err != nil {
		return nil, err
	}

	ret := make(chan addPathRes)
	defer close(ret)

	req := addPathReq{
		name:   name,
		config: newConf,
		ret:    ret,
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-pm.ctx.Done():
		return nil, context.Canceled
	case pm.chAddPath <- req:
		res := <-ret
		return res.hlsMuxer, res.err
	}
}

// RemovePath remove path from pathManager.
func (pm *pathManager) RemovePath(name string) {
	select {
	case <-pm.ctx.Done():
	case pm.chRemovePath <- name:
	}
}

type pathExistReq struct {
	name string
	ret  chan bool
}

func (pm *pathManager) pathExist(name string) bool {
	ret := make(chan bool)
	defer close(ret)

	req := pathExistReq{
		name: name,
		ret:  ret,
	}

	select {
	case <-pm.ctx.Done():
		return false
	case pm.chPathExist <- req:
		return <-ret
	}
}

// pathSourceReady is called by path.
func (pm *pathManager) pathSourceReady(pa *path) {
	select {
	case pm.chPathSourceReady <- pa:
	case <-pm.ctx.Done():
	}
}

// pathSourceNotReady is called by path.
func (pm *pathManager) pathSourceNotReady(pa *path) {
	select {
	case pm.chPathSourceNotReady <- pa:
	case <-pm.ctx.Done():
	}
}

// pathClose is called by path.
func (pm *pathManager) pathClose(pa *path) {
	select {
	case pm.chPathClose <- pa:
	case <-pm.ctx.Done():
	}
}

// onDescribe is called by rtspServer.
func (pm *pathManager) onDescribe(pathName string) (*base.Response, *gortsplib.ServerStream, error) {
	res := func() pathDescribeRes {
		req := pathDescribeReq{
			pathName: pathName,
			res:      make(chan pathDescribeRes),
		}
		select {
		case pm.chDescribe <- req:
			res := <-req.res
			if res.err != nil {
				return res
			}

			return res.path.onDescribe(req)

		case <-pm.ctx.Done():
			return pathDescribeRes{err: ErrTerminated}
		}
	}()

	if res.err != nil {
		if errors.Is(res.err, ErrPathNoOnePublishing) {
			return &base.Response{
				StatusCode: base.StatusNotFound,
			}, nil, res.err
		}
		return &base.Response{
			StatusCode: base.StatusBadRequest,
		}, nil, res.err
	}

	return &base.Response{
		StatusCode: base.StatusOK,
	}, res.stream.rtspStream, nil
}

// publisherAdd is called by rtspSession.
func (pm *pathManager) publisherAdd(name string, session *rtspSession) (*path, error) {
	req := pathPublisherAnnounceReq{
		author:   session,
		pathName: name,
		res:      make(chan pathPublisherAnnounceRes),
	}

	select {
	case pm.chPublisherAdd <- req:
		res := <-req.res
		if res.err != nil {
			return nil, res.err
		}

		res = res.path.onPublisherAnnounce(req)
		return res.path, res.err

	case <-pm.ctx.Done():
		return nil, ErrTerminated
	}
}

// readerAdd is called by rtspSession.
func (pm *pathManager) readerAdd(name string, session *rtspSession) (*path, *stream, error) {
	return pm.hlsMuxerReaderAdd(session, name)
}

// hlsMuxerReaderAdd is called by an hlsMuxer to subscribe to a path as a reader.
func (pm *pathManager) hlsMuxerReaderAdd(author reader, name string) (*path, *stream, error) {
	req := pathReaderSetupPlayReq{
		author:   author,
		pathName: name,
		res:      make(chan pathReaderSetupPlayRes),
	}

	select {
	case pm.chReaderAdd <- req:
		res := <-req.res
		if res.err != nil {
			return nil, nil, res.err
		}

		res = res.path.onReaderSetupPlay(req)
		return res.path, res.stream, res.err

	case <-pm.ctx.Done():
		return nil, nil, ErrTerminated
	}
}

// pathLogfByName returns a logging function bound to the path's configuration,
// used by rtspSession before a path has been resolved.
func (pm *pathManager) pathLogfByName(name string) log.Func {
	ret := make(chan *PathConf)
	defer close(ret)

	select {
	case pm.chPathConf <- pathConfReq{name: name, res: ret}:
		conf := <-ret
		if conf == nil {
			return nil
		}

		c := *conf
		return func(level log.Level, format string, a ...interface{}) {
			sendLogf(pm.log, c, level, "RTSP", format, a...)
		}

	case <-pm.ctx.Done():
		return nil
	}
}
