package tripletnet

// ActivationFn is an elementwise nonlinearity. Deriv takes the activation
// output y = Eval(x), which is all these functions need.
type ActivationFn interface {
	Name() string
	Eval(x float32) float32
	Deriv(y float32) float32
}

type sigmoid struct{}

func (f sigmoid) Name() string            { return "Sigmoid" }
func (f sigmoid) Eval(x float32) float32  { return 1.0 / (1.0 + Exp32(-x)) }
func (f sigmoid) Deriv(y float32) float32 { return y * (1.0 - y) }

var Sigmoid = new(sigmoid)

type softsign struct{}

func (f softsign) Name() string            { return "Softsign" }
func (f softsign) Eval(x float32) float32  { return x / (1 + Abs32(x)) }
func (f softsign) Deriv(y float32) float32 { return Sq32(1 - Abs32(y)) }

var Softsign = new(softsign)

type identity struct{}

func (f identity) Name() string            { return "Identity" }
func (f identity) Eval(x float32) float32  { return x }
func (f identity) Deriv(y float32) float32 { return 1 }

var Identity = new(identity)

type tanh struct{}

func (f tanh) Name() string { return "TanH" }
func (f tanh) Eval(x float32) float32 {
	exp2x := Exp32(2 * x)
	return (exp2x - 1) / (exp2x + 1)
}
func (f tanh) Deriv(y float32) float32 { return 1 - Sq32(y) }

var Tanh = new(tanh)
