package cowbackup

import "context"

// preWriteIntercept is the pre-write interceptor, component E (§4.E). It is
// registered with the source before the sweep starts and is invoked
// synchronously for every guest write, holding the write until do_cow
// returns. It does not consult the error-action policy (§4.G only governs
// the sweep): a failed intercept always propagates to the guest, because
// letting the guest write proceed after a failed CoW would corrupt the
// backup. The failure is also latched as the job's last error so the sweep
// treats it as report-class at its next iteration (§9 open question).
func (j *Job) preWriteIntercept(ctx context.Context, sector, nSectors int64) error {
	err, side := j.doCow(ctx, sector, nSectors)
	if err != nil {
		j.setInterceptFailure(err, side)
	}
	return err
}

func (j *Job) unregisterPreWrite() {
	if j.unregister != nil {
		j.unregister()
	}
}
