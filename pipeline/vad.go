package pipeline

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/BaSui01/voiceflow/types"
)

// VAD decides whether a frame contains speech.
type VAD interface {
	Detect(frame types.AudioFrame) bool
}

// DefaultEnergyThreshold is the RMS amplitude above which a PCM16 frame
// counts as speech. Tunable per deployment; ~1.5% of full scale.
const DefaultEnergyThreshold = 500.0

// EnergyVAD is the default detector: root-mean-square energy of 16-bit
// little-endian PCM samples against a fixed threshold.
type EnergyVAD struct {
	threshold float64
}

// NewEnergyVAD creates an EnergyVAD. A non-positive threshold falls back
// to DefaultEnergyThreshold.
func NewEnergyVAD(threshold float64) *EnergyVAD {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return &EnergyVAD{threshold: threshold}
}

// Detect implements VAD. Frames too short to hold a sample are silence.
func (v *EnergyVAD) Detect(frame types.AudioFrame) bool {
	return rms(frame.Data) >= v.threshold
}

func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}

// InterruptSource is polled between emitted chunks. Implementations must
// be safe for concurrent use.
type InterruptSource interface {
	Interrupted() bool
}

// VADInterrupt turns caller speech during playback into an interrupt:
// the transport feeds inbound frames through Feed while a response is
// playing, and any frame with speech energy trips the signal. The signal
// is sticky until Reset, which the session calls before each turn.
type VADInterrupt struct {
	vad   VAD
	fired atomic.Bool
}

// NewVADInterrupt creates a VADInterrupt. A nil vad gets the default
// EnergyVAD.
func NewVADInterrupt(vad VAD) *VADInterrupt {
	if vad == nil {
		vad = NewEnergyVAD(0)
	}
	return &VADInterrupt{vad: vad}
}

// Feed observes one inbound frame during playback.
func (i *VADInterrupt) Feed(frame types.AudioFrame) {
	if i.vad.Detect(frame) {
		i.fired.Store(true)
	}
}

// Interrupted implements InterruptSource.
func (i *VADInterrupt) Interrupted() bool {
	return i.fired.Load()
}

// Reset clears the signal for the next turn.
func (i *VADInterrupt) Reset() {
	i.fired.Store(false)
}
