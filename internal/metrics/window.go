package metrics

// window keeps the most recent samples of one error metric with running
// sums. The sums are rebuilt from the buffer on every wrap.
type window struct {
	errs      []float64
	actuals   []float64
	next      int
	full      bool
	errSum    float64
	actualSum float64
}

func newWindow(size int) *window {
	return &window{
		errs:    make([]float64, size),
		actuals: make([]float64, size),
	}
}

func (w *window) add(absErr, absActual float64) {
	if w.full {
		w.errSum -= w.errs[w.next]
		w.actualSum -= w.actuals[w.next]
	}
	w.errs[w.next] = absErr
	w.actuals[w.next] = absActual
	w.errSum += absErr
	w.actualSum += absActual
	w.next++
	if w.next == len(w.errs) {
		w.next = 0
		w.full = true
		w.rebuild()
	}
}

func (w *window) rebuild() {
	w.errSum, w.actualSum = 0, 0
	for i := range w.errs {
		w.errSum += w.errs[i]
		w.actualSum += w.actuals[i]
	}
}

func (w *window) len() int {
	if w.full {
		return len(w.errs)
	}
	return w.next
}

func (w *window) sums() (errSum, actualSum float64) {
	return w.errSum, w.actualSum
}
