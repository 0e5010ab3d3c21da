// Package game implements the authoritative bingo round.
//
// The main type is Engine, which owns the draw pool, the participants' cards
// and the round state machine:
//
//	Idle --Start--> Drawing --Tick--> Drawing ... --Claim(valid)--> WonPendingReset
//	WonPendingReset --Tick(delay elapsed)--> Resetting --> Drawing | Idle
//	Drawing --Tick(pool empty)--> Exhausted
//	any --Reset/ForceReset--> Resetting --> Drawing | Idle
//
// # Basic Usage
//
// Every mutation goes through Step with an explicit role. Only the authority
// may drive the engine:
//
//	e := game.NewEngine(cfg, channel, quartz.NewReal(), logger)
//	e.Step(game.RoleAuthority, game.Join("alice"))
//	e.Step(game.RoleAuthority, game.Start())
//	for range ticker.C {
//	    e.Step(game.RoleAuthority, game.Tick())
//	}
//
// # Timers
//
// The announce and celebration timers are level-triggered: they only record a
// deadline, and Tick checks whether it has passed. A tick that finds the
// announce timer not running while drawing re-arms it, so a lost timer can
// never stall a round.
//
// # Claims
//
// A claim carries nothing but the participant ID. The engine rebuilds that
// participant's marks from its own copy of the card and its own drawn set, so
// a client can never win with marks it made up.
//
// # Deterministic Testing
//
// Config.Seed fixes the first round's seed and Config.SeedSource replaces the
// crypto seed source, which together with a quartz mock clock makes every
// round reproducible.
package game
