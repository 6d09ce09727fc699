package hostwasm

import (
	stdErrors "errors"
	"os"

	"github.com/capgate/capgate/domain/errors"
)

func asLoadError(err error, target **errors.LoadError) bool {
	return stdErrors.As(err, target)
}

func osEnviron() []string {
	return os.Environ()
}
