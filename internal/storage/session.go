package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/liangyou/devkit/pkg/models"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// sessionFile 表示 var/sessions/<id>.json 的结构。每个文件只由所属会话写入。
type sessionFile struct {
	Session   models.SessionID  `json:"session"`
	Overrides map[string]string `json:"overrides"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ValidSession 校验会话 ID 能否安全地作为文件名。
func ValidSession(id models.SessionID) error {
	if id == "" {
		return models.NewError(models.ErrNoSession, "session", "", "", errors.New("DEVKIT_SESSION is not set, run `devkit env init`"))
	}
	if !sessionIDPattern.MatchString(string(id)) {
		return fmt.Errorf("storage: invalid session id %q", id)
	}
	return nil
}

// SetSessionOverride 为会话设置覆盖版本。版本必须在设置时已安装。
// 会话文件只属于该会话，因此不需要注册表锁。
func (r *Registry) SetSessionOverride(session models.SessionID, candidate, version string) error {
	if err := ValidSession(session); err != nil {
		return err
	}
	if _, err := r.Get(candidate, version); err != nil {
		if errors.Is(err, models.ErrNotInstalled) {
			return models.NewError(models.ErrNotInstalled, "use", candidate, version, nil)
		}
		return err
	}

	sf, err := r.readSession(session)
	if err != nil {
		return err
	}
	sf.Overrides[candidate] = version
	return r.writeSession(sf)
}

// SessionOverrides 返回会话的全部覆盖，文件不存在时返回空 map。
func (r *Registry) SessionOverrides(session models.SessionID) (map[string]string, error) {
	if err := ValidSession(session); err != nil {
		return nil, err
	}
	sf, err := r.readSession(session)
	if err != nil {
		return nil, err
	}
	return sf.Overrides, nil
}

// ClearSession 删除会话的覆盖；candidate 为空时删除整个会话文件。
func (r *Registry) ClearSession(session models.SessionID, candidate string) error {
	if err := ValidSession(session); err != nil {
		return err
	}
	if candidate == "" {
		if err := os.Remove(r.layout.SessionPath(session)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: remove session: %w", err)
		}
		return nil
	}
	sf, err := r.readSession(session)
	if err != nil {
		return err
	}
	if _, ok := sf.Overrides[candidate]; !ok {
		return nil
	}
	delete(sf.Overrides, candidate)
	return r.writeSession(sf)
}

func (r *Registry) readSession(session models.SessionID) (*sessionFile, error) {
	sf := &sessionFile{Session: session, Overrides: map[string]string{}}
	data, err := os.ReadFile(r.layout.SessionPath(session))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sf, nil
		}
		return nil, fmt.Errorf("storage: read session: %w", err)
	}
	if err := json.Unmarshal(data, sf); err != nil {
		return nil, fmt.Errorf("storage: decode session: %w", err)
	}
	if sf.Overrides == nil {
		sf.Overrides = map[string]string{}
	}
	return sf, nil
}

func (r *Registry) writeSession(sf *sessionFile) error {
	sf.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode session: %w", err)
	}
	return WriteFileAtomic(r.layout.SessionPath(sf.Session), data, 0o644)
}
