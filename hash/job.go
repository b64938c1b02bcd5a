package hash

import (
	"github.com/usnistgov/eipring/descring"
	"github.com/usnistgov/eipring/dma"
	"github.com/usnistgov/eipring/engine"
)

// job is one hash operation flowing through the engine. For one-shot digests
// s is nil and data carries the whole message; for streaming operations s
// points at the owning Stream and Send works against its cache.
type job struct {
	t      *Transform
	s      *Stream
	data   []byte
	ctrl0  uint32
	finish bool

	// absorbed records that data has been appended to the stream cache, so a
	// parked retry does not append twice
	absorbed bool

	bufs   []dma.Region
	out    dma.Region
	digest []byte
	done   chan error
}

func (j *job) Send(r *engine.Ring) (int, int, error) {
	if j.s != nil {
		return j.sendStream(r)
	}
	return j.sendPayload(r, j.data, j.ctrl0)
}

// sendPayload stages payload into bounce buffers and emits one command
// descriptor per fragment plus one result reservation. On any resource error
// everything is rolled back so the dispatcher can retry the job from scratch.
func (j *job) sendPayload(r *engine.Ring, payload []byte, ctrl0 uint32) (int, int, error) {
	bufSize := j.t.eng.Buffers().BufSize()
	nfrag := (len(payload) + bufSize - 1) / bufSize
	if nfrag == 0 {
		nfrag = 1
	}

	cdescs := 0
	fail := func(e error) (int, int, error) {
		for ; cdescs > 0; cdescs-- {
			r.RollbackCommand()
		}
		j.release()
		return 0, 0, e
	}

	for i := 0; i < nfrag; i++ {
		chunk := payload[i*bufSize:]
		if len(chunk) > bufSize {
			chunk = chunk[:bufSize]
		}
		buf, e := j.t.eng.Buffers().Get()
		if e != nil {
			return fail(e)
		}
		j.bufs = append(j.bufs, buf)
		copy(buf.Bytes(), chunk)

		cd, e := r.AddCommandDesc(i == 0, i == nfrag-1,
			buf.Addr(), uint32(len(chunk)), uint32(len(payload)), j.t.ctx.Addr())
		if e != nil {
			return fail(e)
		}
		cdescs++
		if i == 0 {
			cd.SetControl(ctrl0, 0)
			cd.SetToken(0, descring.Token{
				Opcode: descring.TokenOpcodeInsert,
				Stat:   descring.TokenStatLastHash | descring.TokenStatLastPacket,
				Instructions: descring.TokenInsHashDigest |
					descring.TokenInsTypeOutput | descring.TokenInsLast,
				Length: uint32(j.t.alg.DigestSize()),
			})
		}
	}

	out, e := j.t.eng.Buffers().Get()
	if e != nil {
		return fail(e)
	}
	j.out = out
	if _, e := r.AddResultDesc(j, true, true, out.Addr(), uint32(out.Len())); e != nil {
		return fail(e)
	}
	return nfrag, 1, nil
}

func (j *job) HandleResult(r *engine.Ring) (int, bool, error) {
	rd, e := r.NextResult()
	if e != nil {
		return 0, false, nil
	}
	res := r.ResultError(rd)
	if res == nil && j.finish {
		j.digest = append([]byte(nil), j.out.Bytes()[:rd.PacketLength()]...)
	}
	j.release()
	r.AckCommands()
	return 1, true, res
}

func (j *job) Complete(err error) {
	j.done <- err
}

func (j *job) release() {
	for _, buf := range j.bufs {
		j.t.eng.Buffers().Put(buf)
	}
	j.bufs = nil
	if j.out.Len() > 0 {
		j.t.eng.Buffers().Put(j.out)
		j.out = dma.Region{}
	}
}
