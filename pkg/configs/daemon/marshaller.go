package daemon

import (
	"os"

	"gopkg.in/yaml.v3"
)

// load podgen daemon config from a file.
//
// args:
//   - filepath: filepath refers a config file.
//
// returns *DaemonConfig, error:
//
//	When loading success, returns `(*DaemonConfig, nil)`.
//	Otherwise, returns `(nil, error)`.
func LoadDaemonConfig(filepath string) (*DaemonConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content, os.Getenv)
}

func Unmarshal(conf []byte, getenv func(string) string) (out *DaemonConfig, err error) {
	var _out *DaemonConfigMarshall
	err = yaml.Unmarshal(conf, &_out)
	if err != nil {
		return nil, err
	}
	_out.ApplyEnvOverrides(getenv)
	out = TrySeal(_out)
	return out, nil
}
