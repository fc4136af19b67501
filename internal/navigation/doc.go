// Package navigation implements the Navigation Controller component.
//
// The controller is a finite-state machine over the game flow:
//
//	start --match_found--> matching --game_start--> in_game --game_over--> ended
//	  ^                                                                      |
//	  +-------------------------------restart--------------------------------+
//
// Each transition tears down the bindings of the page being left and then asks
// the Navigator to route to the next page. Events with no transition from the
// current phase are logged and ignored.
package navigation
