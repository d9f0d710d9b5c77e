package container

import (
	"reflect"

	"github.com/sirupsen/logrus"
)

// LogObserver writes traversal events to a logrus logger. Graph walking is
// logged at trace level, cycles and constructions at debug level.
//
//	s := container.New(container.WithObserver(container.NewLogObserver(log)))
type LogObserver struct {
	log logrus.FieldLogger
}

// NewLogObserver creates an observer logging to l.
func NewLogObserver(l logrus.FieldLogger) *LogObserver {
	return &LogObserver{log: l}
}

func (o *LogObserver) Descending(path Path, declaring, dependency reflect.Type) {
	o.log.WithFields(logrus.Fields{
		"path":      path.String(),
		"declaring": typeName(declaring),
		"type":      typeName(dependency),
	}).Trace("descending")
}

func (o *LogObserver) Ascending(path Path, declaring, dependency reflect.Type) {
	o.log.WithFields(logrus.Fields{
		"path":      path.String(),
		"declaring": typeName(declaring),
		"type":      typeName(dependency),
	}).Trace("ascending")
}

func (o *LogObserver) Circular(path Path) {
	o.log.WithField("path", path.String()).Debug("circular reference tolerated")
}

func (o *LogObserver) Resolved(path Path, concrete reflect.Type) {
	o.log.WithFields(logrus.Fields{
		"path": path.String(),
		"type": typeName(concrete),
	}).Trace("resolved")
}

func (o *LogObserver) Instantiated(path Path, handle *InstanceHandle) {
	o.log.WithFields(logrus.Fields{
		"path": path.String(),
		"type": typeName(handle.Type),
	}).Debug("instantiated")
}
