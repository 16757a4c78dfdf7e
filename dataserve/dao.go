package dataserve

import (
	"github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
)

// TaskDAO is the data-access layer over one session. It is wired as a
// Factory depending on the call-scope "db" session, so every DAO built
// within one unit of work shares that work's session.
type TaskDAO struct {
	session *Session
}

func NewTaskDAO(s *Session) *TaskDAO {
	return &TaskDAO{session: s}
}

func (d *TaskDAO) Add(title string) (Task, error) {
	if title == "" {
		return Task{}, errors.New("task title must not be empty")
	}
	u, err := uuid.NewV4()
	if err != nil {
		return Task{}, errors.Wrap(err, "generating task id")
	}
	t := Task{ID: u.String(), Title: title}
	if err := d.session.Put(t); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (d *TaskDAO) Get(id string) (Task, bool, error) {
	return d.session.Get(id)
}

func (d *TaskDAO) List() ([]Task, error) {
	return d.session.List()
}

func (d *TaskDAO) Complete(id string) error {
	t, ok, err := d.session.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("no task %q", id)
	}
	t.Done = true
	return d.session.Put(t)
}

func (d *TaskDAO) Delete(id string) error {
	return d.session.Delete(id)
}
