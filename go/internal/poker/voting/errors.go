package voting

// Kind classifies a rejected operation.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindPrecondition  Kind = "precondition"
)

// Rejection is returned when an operation is refused. Nothing was written.
type Rejection struct {
	Kind   Kind
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

func invalid(reason string) *Rejection {
	return &Rejection{Kind: KindValidation, Reason: reason}
}

func forbidden(reason string) *Rejection {
	return &Rejection{Kind: KindAuthorization, Reason: reason}
}

func precondition(reason string) *Rejection {
	return &Rejection{Kind: KindPrecondition, Reason: reason}
}
