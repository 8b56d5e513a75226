// File: uio/version.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package uio

import (
	"github.com/Masterminds/semver/v3"

	"github.com/momentics/hioload-uio/api"
)

// DriverVersion parses the driver version attribute. UIO drivers commonly
// report versions such as "0.01.0"; leading zeros are accepted.
func (d *Device) DriverVersion() (*semver.Version, error) {
	raw, err := d.Version()
	if err != nil {
		return nil, err
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, api.Wrap(api.ErrCodeParse, "parse driver version", err).
			WithContext("index", d.index).WithContext("version", raw)
	}
	return v, nil
}

// CheckVersion verifies the driver version against a constraint such as
// ">= 0.1, < 2". It fails with api.ErrUnsupported when the driver is
// outside the range and api.ErrParse when either side does not parse.
func (d *Device) CheckVersion(constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return api.Wrap(api.ErrCodeParse, "parse version constraint", err).
			WithContext("constraint", constraint)
	}
	v, err := d.DriverVersion()
	if err != nil {
		return err
	}
	if ok, reasons := c.Validate(v); !ok {
		e := api.NewError(api.ErrCodeUnsupported, "driver version not supported").
			WithContext("index", d.index).
			WithContext("version", v.String()).
			WithContext("constraint", constraint)
		if len(reasons) > 0 {
			e.Err = reasons[0]
		}
		return e
	}
	return nil
}
