package capture

import "time"

// noteError records one streaming error and checks the failure window.
// ErrorThreshold errors inside ErrorWindow trip the device into the
// error state. Tripping spawns a goroutine because this runs on paths
// that must not take the control mutex themselves.
func (d *Device) noteError(code int32) {
	d.stats.errors.Add(1)
	d.stats.lastErr.Store(code)

	now := time.Now().UnixNano()

	d.mu.Lock()
	n := len(d.errAt)
	d.errAt[d.errIdx%n] = now
	d.errIdx++
	trip := false
	if d.errIdx >= n {
		// next slot holds the oldest error of the last n
		oldest := d.errAt[d.errIdx%n]
		trip = now-oldest <= int64(d.opts.ErrorWindow)
	}
	streaming := d.state == StateStreaming
	d.mu.Unlock()

	if trip && streaming && d.failing.CompareAndSwap(false, true) {
		go func() {
			d.failStream()
			d.failing.Store(false)
		}()
	}
}

// failStream moves a streaming device into the error state and lines up
// a transport reset. Racing a concurrent stop or detach is fine, the
// state check under the control mutex settles it.
func (d *Device) failStream() {
	d.ctrl.Lock()
	defer d.ctrl.Unlock()

	if d.State() != StateStreaming {
		return
	}
	d.shutdown()
	d.setState(StateError)
	d.scheduleReset()
}

// scheduleReset arms the recovery timer with the next backoff step.
func (d *Device) scheduleReset() {
	d.mu.Lock()
	d.retry++
	delay := resetDelay(d.retry)
	d.timer = time.AfterFunc(delay, d.tryReset)
	d.mu.Unlock()
}

// tryReset asks the transport to reinitialize. Success returns the
// device to connected so the consumer can stream again, failure backs
// off and retries. A detach while the timer was pending wins.
func (d *Device) tryReset() {
	d.ctrl.Lock()
	defer d.ctrl.Unlock()

	if d.State() != StateError {
		return
	}

	if err := d.tr.Reset(); err != nil {
		d.stats.lastErr.Store(Errno(err))
		d.scheduleReset()
		return
	}

	d.mu.Lock()
	d.retry = 0
	d.timer = nil
	d.errIdx = 0
	d.mu.Unlock()

	d.stats.reset()
	d.setState(StateConnected)
}

func resetDelay(retry int) time.Duration {
	switch {
	case retry < 5:
		return time.Second
	case retry < 10:
		return 5 * time.Second
	case retry < 20:
		return 10 * time.Second
	}
	return time.Minute
}
