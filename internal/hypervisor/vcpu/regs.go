package vcpu

// RegRead reads register n in the current mode. Because banked registers are swapped into the
// live frame on every mode switch (see bank.go), the current mode's view of every register,
// banked or not, is simply the live frame.
func (v *VCPU) RegRead(n GPR) Register {
	return v.User.GPR[n]
}

// RegWrite writes register n in the current mode.
func (v *VCPU) RegWrite(n GPR, val Register) {
	v.User.GPR[n] = val
}

// RegModeRead reads register n as it appears in an arbitrary mode. If mode equals the current
// mode, this delegates to RegRead; otherwise it consults the banked store directly, since the
// live frame only ever reflects the current mode's bank.
func (v *VCPU) RegModeRead(mode Mode, n GPR) Register {
	current := v.User.PSR.Mode()

	if mode == current {
		return v.RegRead(n)
	}

	switch {
	case n >= R8 && n <= R12:
		idx := n - R8

		switch {
		case mode == ModeFIQ:
			return v.private.GPRFiq[idx]
		case current == ModeFIQ:
			return v.private.GPRUsr[idx]
		default:
			// Neither mode is FIQ: both share the same physical registers as the
			// current, live mode.
			return v.User.GPR[n]
		}
	case n == SP:
		return v.private.banked[modeBank(mode)].SP
	case n == LR:
		return v.private.banked[modeBank(mode)].LR
	default:
		// r0-r7 and pc are never banked.
		return v.User.GPR[n]
	}
}

// RegModeWrite writes register n as it appears in an arbitrary mode.
func (v *VCPU) RegModeWrite(mode Mode, n GPR, val Register) {
	current := v.User.PSR.Mode()

	if mode == current {
		v.RegWrite(n, val)
		return
	}

	switch {
	case n >= R8 && n <= R12:
		idx := n - R8

		switch {
		case mode == ModeFIQ:
			v.private.GPRFiq[idx] = val
		case current == ModeFIQ:
			v.private.GPRUsr[idx] = val
		default:
			v.User.GPR[n] = val
		}
	case n == SP:
		b := &v.private.banked[modeBank(mode)]
		b.SP = val
	case n == LR:
		b := &v.private.banked[modeBank(mode)]
		b.LR = val
	default:
		v.User.GPR[n] = val
	}
}
